package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/trades-chat/internal/conversation"
	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/observability"
)

// ChatService runs chat turns and exposes stored history
type ChatService interface {
	Handle(ctx context.Context, req conversation.Request) (*conversation.Reply, error)
	History(ctx context.Context, userID string) ([]history.Turn, error)
}

// RouterOptions configures NewRouter
type RouterOptions struct {
	Chat              ChatService
	APIKey            string
	AllowedOrigin     string
	Development       bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MetricsEnabled    bool
	ReadinessChecks   []observability.DependencyCheck
}

// NewRouter builds the HTTP surface of the service
func NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	policy := OriginPolicy{AllowedOrigin: opts.AllowedOrigin, AllowAll: opts.Development}
	router.Use(CORS(policy))

	router.GET("/health", gin.WrapF(observability.HealthCheckHandler()))
	router.GET("/ready", gin.WrapF(observability.ReadinessHandler(opts.ReadinessChecks...)))
	if opts.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	rl := NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow)
	h := &chatHandler{chat: opts.Chat, upgrader: newUpgrader(policy), limiter: rl}

	api := router.Group("/api")
	api.Use(RateLimit(rl))
	api.Use(APIKey(opts.APIKey))
	{
		api.POST("/chat", h.handleChat)
		api.GET("/chat/ws", h.handleStream)
		api.GET("/history", h.handleHistory)
	}

	return router
}
