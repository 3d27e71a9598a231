package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"

	"carebridge/internal/app"
	"carebridge/internal/config"
	"carebridge/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.Mirror, deps.Embedder, deps.Generator, deps.NSQProducer, log)
	if err != nil {
		slog.Error("failed to wire application", "error", err)
		os.Exit(1)
	}

	// Expired conversations are swept in the background; the TTL also
	// applies lazily on access.
	go application.Memory.RunSweeper(ctx, 10*time.Minute)

	// NSQ consumer for ingest tasks
	consumer, err := nsq.NewConsumer(config.TopicIngestTask, "worker", nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer", "error", err)
		os.Exit(1)
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return application.IngestConsumer.HandleMessage(m)
	}))
	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "error", err)
	} else {
		slog.Info("NSQ ingest consumer connected", "topic", config.TopicIngestTask)
	}
	defer consumer.Stop()

	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
