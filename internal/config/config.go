package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"vitae"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"vitae"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	EmbedModel      string `envconfig:"EMBED_MODEL" default:"gemini-embedding-001"`
	CompletionModel string `envconfig:"COMPLETION_MODEL" default:"gemini-2.0-flash"`
	EmbedDim        int    `envconfig:"EMBED_DIM" default:"1536"`

	// Embedding pipeline. The provider rate limit is shared across the
	// whole process, so batches are serialized and paced.
	EmbedBatchSize         int `envconfig:"EMBED_BATCH_SIZE" default:"16"`
	EmbedRequestsPerMin    int `envconfig:"EMBED_REQUESTS_PER_MIN" default:"60"`
	EmbedMaxAttempts       int `envconfig:"EMBED_MAX_ATTEMPTS" default:"4"`
	EmbedTimeoutSeconds    int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`
	BreakerFailureLimit    int `envconfig:"BREAKER_FAILURE_LIMIT" default:"5"`
	BreakerCooldownSeconds int `envconfig:"BREAKER_COOLDOWN_SECONDS" default:"60"`

	// Token budget bounds for chunking. Min < Target < HardCap.
	TokenMin     int `envconfig:"TOKEN_MIN" default:"120"`
	TokenTarget  int `envconfig:"TOKEN_TARGET" default:"350"`
	TokenHardCap int `envconfig:"TOKEN_HARD_CAP" default:"500"`

	// Evidence assembly for generation prompts.
	ContextCharBudget int `envconfig:"CONTEXT_CHAR_BUDGET" default:"6000"`
	ContextCharFloor  int `envconfig:"CONTEXT_CHAR_FLOOR" default:"1200"`
	MinContextChars   int `envconfig:"MIN_CONTEXT_CHARS" default:"200"`

	EnableAPI          bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
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
	if c.TokenMin >= c.TokenTarget || c.TokenTarget >= c.TokenHardCap {
		return fmt.Errorf("token bounds must satisfy min < target < hard cap, got %d/%d/%d",
			c.TokenMin, c.TokenTarget, c.TokenHardCap)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	return nil
}
