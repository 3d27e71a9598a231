package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"carebridge"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"carebridge"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gemini-2.0-flash"`
	ChatMaxTokens  int    `envconfig:"CHAT_MAX_TOKENS" default:"1000"`

	// Optional remote replica of the local vector index.
	WeaviateEnabled bool   `envconfig:"WEAVIATE_ENABLED" default:"false"`
	WeaviateHost    string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme  string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// RAG defaults, overridable per request and via runtime settings.
	ChunkSize           int     `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap        int     `envconfig:"CHUNK_OVERLAP" default:"200"`
	TopKResults         int     `envconfig:"TOP_K_RESULTS" default:"5"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`

	// Embedding batch throttle. The delay is a courtesy to the provider's
	// rate limits, not a correctness requirement.
	EmbedBatchSize  int           `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	EmbedBatchDelay time.Duration `envconfig:"EMBED_BATCH_DELAY" default:"200ms"`

	// Safety
	AdviceHighThreshold int  `envconfig:"ADVICE_HIGH_THRESHOLD" default:"3"`
	RequireDisclaimer   bool `envconfig:"REQUIRE_DISCLAIMER" default:"true"`

	// Conversation memory
	MemoryTTL  time.Duration `envconfig:"MEMORY_TTL" default:"24h"`
	MaxHistory int           `envconfig:"MAX_CONVERSATION_HISTORY" default:"10"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	IndexDir        string `envconfig:"INDEX_DIR" default:"data/vector_store"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrMissingRequired)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_SIZE", ErrMissingRequired)
	}
	return nil
}
