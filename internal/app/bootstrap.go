package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"carebridge/internal/adapter/gemini"
	wmirror "carebridge/internal/adapter/weaviate"
	"carebridge/internal/config"
	"carebridge/internal/retrieval"
	"carebridge/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	Index       *vector.Index
	Mirror      retrieval.Mirror
	Embedder    retrieval.Embedder
	Generator   Generator
	NSQProducer *nsq.Producer
}

func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Vector index: load the persisted snapshot if one exists, otherwise
	// start empty. A corrupt snapshot is an operator problem, not something
	// to silently rebuild over.
	idx := vector.NewIndex()
	if cfg.IndexDir != "" {
		if err := os.MkdirAll(cfg.IndexDir, 0o750); err != nil {
			return nil, fmt.Errorf("index dir error: %w", err)
		}
		if err := idx.Load(cfg.IndexDir); err != nil {
			return nil, fmt.Errorf("index load error: %w", err)
		}
		stats := idx.Stats()
		slog.Info("vector index loaded", "chunks", stats.TotalVectors, "dimension", stats.Dimension)
	}

	// Optional Weaviate mirror
	var mirror retrieval.Mirror
	if cfg.WeaviateEnabled {
		wClient, err := wmirror.NewClient(cfg.WeaviateHost, cfg.WeaviateScheme)
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		wm := wmirror.NewMirror(wClient, logger)
		if err := ensureSchemaWithRetry(ctx, wm, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		mirror = wm
	}

	// Gemini adapters
	embedder, err := gemini.NewEmbedder(ctx, gemini.EmbedderConfig{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.EmbeddingModel,
		BatchSize:  cfg.EmbedBatchSize,
		BatchDelay: cfg.EmbedBatchDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder error: %w", err)
	}

	generator, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{
		APIKey:    cfg.GeminiAPIKey,
		Model:     cfg.ChatModel,
		MaxTokens: int32(cfg.ChatMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("generator error: %w", err)
	}

	// NSQ Producer
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		Index:       idx,
		Mirror:      mirror,
		Embedder:    embedder,
		Generator:   generator,
		NSQProducer: producer,
	}, nil
}

// createTopics pre-creates the NSQ topics so consumers querying lookupd do
// not 404 before the first publish.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestTask)
		create(config.TopicIngestResult)
	}()
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func ensureSchemaWithRetry(ctx context.Context, store schemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
