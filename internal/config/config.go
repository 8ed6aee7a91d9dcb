package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `default:"8080"`
	Environment string `default:"dev"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
	TablePrefix string `split_words:"true"` // Derived from Environment when empty

	// Storage: Postgres when DatabaseURL is set, SQLite otherwise
	DatabaseURL string `split_words:"true"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"relay.db"`

	// Auth: JWT verification against a JWKS endpoint. Empty disables auth in dev.
	JWKSURL string `envconfig:"JWKS_URL"`

	// LLM Configuration
	// ANTHROPIC_BASE_URL is read by the Anthropic SDK itself.
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	TavilyAPIKey    string `envconfig:"TAVILY_API_KEY"`
	DefaultModel    string `split_words:"true" default:"claude-haiku-4-5"`

	// Streaming
	KeepaliveInterval time.Duration `split_words:"true" default:"15s"`

	// Logging
	LogDir      string `split_words:"true"`
	LogMaxFiles int    `split_words:"true" default:"10"`

	// Debug flags; DEBUG unset means true outside prod
	DebugFlag string `envconfig:"DEBUG"`
	Debug     bool   `ignored:"true"`

	Redis       RedisConfig
	Retry       RetryConfig
	ToolBudget  ToolBudgetConfig `split_words:"true"`
	RateLimit   RateLimitConfig  `split_words:"true"`
	Attachments AttachmentConfig
}

// RedisConfig selects the cross-process stream registry. An empty URL keeps
// the registry in memory.
type RedisConfig struct {
	URL          string        `split_words:"true"`
	ReadTimeout  time.Duration `split_words:"true" default:"3s"`
	WriteTimeout time.Duration `split_words:"true" default:"3s"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
	StateTTL     time.Duration `split_words:"true" default:"1h"`
}

// RetryConfig bounds upstream provider attempts.
type RetryConfig struct {
	MaxAttempts int           `split_words:"true" default:"3"`
	BaseDelay   time.Duration `split_words:"true" default:"500ms"`
	MaxDelay    time.Duration `split_words:"true" default:"10s"`
}

// ToolBudgetConfig is the "high" reasoning-effort preset. "low" is fixed.
type ToolBudgetConfig struct {
	HighMaxIterations int `split_words:"true" default:"5"`
	HighMaxToolCalls  int `split_words:"true" default:"5"`
}

// RateLimitConfig limits requests per user (or client IP when anonymous).
type RateLimitConfig struct {
	RequestsPerSecond float64 `split_words:"true" default:"5"`
	Burst             int     `default:"20"`
}

// AttachmentConfig points at S3-compatible object storage.
type AttachmentConfig struct {
	Bucket   string
	Region   string `default:"us-east-1"`
	Endpoint string // Non-AWS endpoints (MinIO, R2)
	MaxBytes int64  `split_words:"true" default:"262144"`
}

// Load reads configuration from the environment. Call godotenv.Load first to
// pick up a local .env file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if cfg.TablePrefix == "" {
		cfg.TablePrefix = getTablePrefix(cfg.Environment)
	}
	cfg.Debug = parseDebug(cfg.DebugFlag, cfg.Environment)

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.ToolBudget.HighMaxIterations < 1 || cfg.ToolBudget.HighMaxToolCalls < 1 {
		return nil, fmt.Errorf("tool budget must allow at least one iteration and one tool call")
	}

	return &cfg, nil
}

// IsDev reports whether the server runs in the dev environment.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// parseDebug defaults to true in dev/test and false in production.
func parseDebug(flag, env string) bool {
	if flag == "" {
		return env != "prod"
	}
	return strings.EqualFold(flag, "true") || flag == "1"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}
