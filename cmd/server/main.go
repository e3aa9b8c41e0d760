package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lexiqai/trades-chat/internal/api"
	"github.com/lexiqai/trades-chat/internal/config"
	"github.com/lexiqai/trades-chat/internal/conversation"
	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/llm"
	"github.com/lexiqai/trades-chat/internal/observability"
	"github.com/lexiqai/trades-chat/internal/prompt"
	"github.com/lexiqai/trades-chat/internal/resilience"
	"github.com/lexiqai/trades-chat/internal/tools"
)

const retryMaxBackoff = 2 * time.Second

// writeTimeout covers the slowest turn: two model calls with every retry
// attempt and backoff, a catalog fetch and a data call.
func writeTimeout(cfg *config.Config) time.Duration {
	attempts := cfg.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	perModelCall := time.Duration(attempts)*cfg.LLMTimeoutDuration() + time.Duration(attempts-1)*retryMaxBackoff
	return 2*perModelCall + 2*cfg.ToolTimeoutDuration() + 15*time.Second
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("environment", cfg.Environment).
		Str("llm_model", cfg.LLMModel).
		Str("tool_service_url", cfg.ToolServiceURL).
		Str("history_backend", cfg.HistoryBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Trades chat service starting")

	if cfg.LLMAPIKey == "" {
		logger.Warn().Msg("HF_API_KEY not set; chat requests will fail until it is configured")
	}
	if cfg.APIKey == "" {
		logger.Warn().Msg("API_KEY not set; /api requests will be refused")
	}

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        retryMaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	// Model gateway
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeoutDuration(),
		Breaker:     resilience.NewCircuitBreaker("llm", cfg.CircuitBreakerMaxFailures, resetTimeout),
		Retry:       retry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	// Data functions
	toolClient := tools.NewMCPClient(tools.MCPConfig{
		URL:     cfg.ToolServiceURL,
		Timeout: cfg.ToolTimeoutDuration(),
		Breaker: resilience.NewCircuitBreaker("tools", cfg.CircuitBreakerMaxFailures, resetTimeout),
		Retry:   retry,
	})
	catalog := tools.NewCatalog(toolClient, cfg.ToolTimeoutDuration())
	dispatcher := tools.NewDispatcher(catalog, toolClient, nil, cfg.ToolTimeoutDuration())

	// Conversation history
	store, err := history.Open(history.StoreConfig{
		Backend:  cfg.HistoryBackend,
		Path:     cfg.HistoryFile,
		DSN:      cfg.HistoryDSN,
		MaxTurns: cfg.HistoryMaxTurns,
		Redis: history.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open history store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history store")
		}
	}()

	prompts := prompt.NewBuilder(catalog, cfg.HistoryMaxTurns)
	orchestrator := conversation.NewOrchestrator(conversation.Options{
		Gateway:     llmClient,
		Prompts:     prompts,
		Dispatcher:  dispatcher,
		Synthesizer: conversation.NewSynthesizer(llmClient, prompts, catalog),
		Store:       store,
		MaxTurns:    cfg.HistoryMaxTurns,
	})

	// Readiness checks are built here to keep observability free of domain imports
	checks := []observability.DependencyCheck{
		{Name: "llm", Check: llmClient.HealthCheck},
		{Name: "tools", Check: func(ctx context.Context) (bool, error) {
			if err := toolClient.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}},
		{Name: "history", Check: func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}},
	}

	router := api.NewRouter(api.RouterOptions{
		Chat:              orchestrator,
		APIKey:            cfg.APIKey,
		AllowedOrigin:     cfg.AllowedOrigin,
		Development:       cfg.IsDevelopment(),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindowDuration(),
		MetricsEnabled:    cfg.MetricsEnabled,
		ReadinessChecks:   checks,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/chat", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
