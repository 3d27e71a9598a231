package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"carebridge/features/chat"
	"carebridge/features/document"
	"carebridge/features/health"
	"carebridge/features/query"
	"carebridge/features/stats"
	"carebridge/internal/config"
	"carebridge/internal/memory"
	"carebridge/internal/middleware"
	"carebridge/internal/retrieval"
	"carebridge/internal/safety"
	"carebridge/internal/settings"
	"carebridge/internal/text"
	"carebridge/internal/vector"
	"carebridge/internal/worker"
)

// Database is the connection surface App needs in its signature so tests
// can hand in sqlmock.
type Database interface {
	PingContext(ctx context.Context) error
}

// TaskPublisher emits queue messages. *nsq.Producer satisfies it.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Generator produces chat completions.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type App struct {
	Handler         http.Handler
	DocumentService *document.Service
	IngestConsumer  *worker.IngestConsumer
	Memory          *memory.Store

	addr string
}

func New(
	cfg *config.Config,
	db Database,
	idx *vector.Index,
	mirror retrieval.Mirror,
	embedder retrieval.Embedder,
	generator Generator,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {
	// Cast db to *sql.DB for repositories that require it. The interface in
	// the signature keeps the constructor mockable with sqlmock.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)

	// Seed the Gemini API key from the environment on first boot.
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					slog.Warn("failed to seed gemini api key", "error", err)
				} else {
					slog.Info("seeded gemini api key from environment")
				}
			}
		} else {
			slog.Warn("failed to fetch settings for seeding", "error", err)
		}
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retrievalService := retrieval.NewService(embedder, idx, mirror, settingsService, retrieval.Config{
		TopK:                cfg.TopKResults,
		SimilarityThreshold: float32(cfg.SimilarityThreshold),
		ChunkSize:           cfg.ChunkSize,
		ChunkOverlap:        cfg.ChunkOverlap,
		IndexDir:            cfg.IndexDir,
	}, queryLogger, logger)

	// Safety filter and conversation memory. The runtime settings row can
	// raise or lower the advice threshold; absent a row, config wins.
	adviceHigh := cfg.AdviceHighThreshold
	if set, err := settingsService.Get(context.Background()); err == nil && set.AdviceHighThreshold > 0 {
		adviceHigh = set.AdviceHighThreshold
	}
	filter := safety.NewFilterWithRules(safety.DefaultRules(), adviceHigh, logger)
	memoryStore := memory.NewStore(cfg.MemoryTTL, cfg.MaxHistory, logger)

	// Feature: Document
	documentRepo := document.NewPostgresRepo(sqlDB)
	documentService := document.NewService(documentRepo, taskPub, retrievalService)
	documentHandler := document.NewHandler(documentService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Feature: Query
	queryHandler := query.NewHandler(retrievalService)

	// Feature: Chat
	chatService := chat.NewService(retrievalService, generator, filter, memoryStore, cfg.RequireDisclaimer, logger)
	chatHandler := chat.NewHandler(chatService)

	// Feature: Stats & Health
	statsHandler := stats.NewHandler(retrievalService, documentRepo, memoryStore)
	healthHandler := health.NewHandler(sqlDB, retrievalService, filter)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(documentHandler.Create)))
	mux.Handle("POST /documents/upload", middleware.CorrelationID(enableCORS(documentHandler.Upload)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))
	mux.Handle("POST /documents/{id}/reingest", middleware.CorrelationID(enableCORS(documentHandler.Reingest)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(queryHandler.Search)))

	mux.Handle("POST /chat/send", middleware.CorrelationID(enableCORS(chatHandler.Send)))
	mux.Handle("GET /chat/{id}/history", middleware.CorrelationID(enableCORS(chatHandler.History)))
	mux.Handle("DELETE /chat/{id}", middleware.CorrelationID(enableCORS(chatHandler.Delete)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.Get)))

	mux.HandleFunc("GET /healthz", healthHandler.Live)
	mux.Handle("GET /readyz", middleware.CorrelationID(http.HandlerFunc(healthHandler.Ready)))

	// Worker: ingest consumer
	processor := text.NewProcessor(text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap))
	ingestConsumer := worker.NewIngestConsumer(retrievalService, documentRepo, processor, taskPub)

	return &App{
		Handler:         mux,
		DocumentService: documentService,
		IngestConsumer:  ingestConsumer,
		Memory:          memoryStore,
		addr:            fmt.Sprintf(":%d", cfg.ServerPort),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", a.addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
