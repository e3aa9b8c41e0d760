package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported history backends
const (
	HistoryBackendFile     = "file"
	HistoryBackendSQLite   = "sqlite"
	HistoryBackendPostgres = "postgres"
	HistoryBackendRedis    = "redis"
)

// Config holds all configuration for the chat service
type Config struct {
	// Server configuration
	Port        string `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"APP_ENV" default:"production"` // development enables permissive CORS

	// Inbound API protection
	APIKey            string `envconfig:"API_KEY" default:""`
	AllowedOrigin     string `envconfig:"GITHUB_PAGES_DOMAIN" default:""` // Exact origin allowed in addition to *.github.io
	RateLimitRequests int    `envconfig:"RATE_LIMIT_REQUESTS" default:"100"`
	RateLimitWindow   int    `envconfig:"RATE_LIMIT_WINDOW" default:"900"` // seconds

	// LLM gateway (OpenAI-compatible chat completions, Hugging Face router by default).
	// The key is not required at startup; chat requests fail fast while it is missing.
	LLMAPIKey      string  `envconfig:"HF_API_KEY" default:""`
	LLMBaseURL     string  `envconfig:"LLM_BASE_URL" default:"https://router.huggingface.co/v1"`
	LLMModel       string  `envconfig:"HF_MODEL_TYPE" default:"meta-llama/Llama-3.1-8B-Instruct"`
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMMaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	LLMTimeout     int     `envconfig:"LLM_TIMEOUT" default:"60"` // seconds

	// Tool/data service (MCP over HTTP)
	ToolServiceURL string `envconfig:"TOOL_SERVICE_URL" default:"http://localhost:3001/mcp"`
	ToolTimeout    int    `envconfig:"TOOL_TIMEOUT" default:"30"` // seconds

	// Conversation history persistence
	HistoryBackend  string `envconfig:"HISTORY_BACKEND" default:"file"` // file, sqlite, postgres, redis
	HistoryFile     string `envconfig:"HISTORY_FILE" default:"data/history.json"`
	HistoryDSN      string `envconfig:"HISTORY_DSN" default:""` // sqlite path or postgres DSN
	HistoryMaxTurns int    `envconfig:"HISTORY_MAX_TURNS" default:"30"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // Maximum attempts per model call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field combinations envconfig cannot express
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case HistoryBackendFile:
		if c.HistoryFile == "" {
			return fmt.Errorf("HISTORY_FILE is required for the file history backend")
		}
	case HistoryBackendSQLite, HistoryBackendPostgres:
		if c.HistoryDSN == "" {
			return fmt.Errorf("HISTORY_DSN is required for the %s history backend", c.HistoryBackend)
		}
	case HistoryBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis history backend")
		}
	default:
		return fmt.Errorf("unsupported HISTORY_BACKEND %q", c.HistoryBackend)
	}

	if c.HistoryMaxTurns <= 0 {
		return fmt.Errorf("HISTORY_MAX_TURNS must be positive, got %d", c.HistoryMaxTurns)
	}
	if c.LLMTimeout <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT and TOOL_TIMEOUT must be positive")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}

	return nil
}

// IsDevelopment reports whether the service runs with development settings
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// LLMTimeoutDuration returns the per-call model timeout
func (c *Config) LLMTimeoutDuration() time.Duration {
	return time.Duration(c.LLMTimeout) * time.Second
}

// ToolTimeoutDuration returns the per-call data function timeout
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}

// RateLimitWindowDuration returns the rate limiting window
func (c *Config) RateLimitWindowDuration() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Second
}
