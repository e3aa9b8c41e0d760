package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lexiqai/trades-chat/internal/observability"
)

const (
	headerUserID        = "X-User-Id"
	headerAPIKey        = "X-Api-Key"
	headerCorrelationID = "X-Correlation-Id"
)

// RequestLogger attaches a correlation-scoped zerolog logger to the request
// context and records HTTP metrics.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(headerCorrelationID)
		if correlationID == "" {
			correlationID = observability.NewCorrelationID()
		}
		c.Header(headerCorrelationID, correlationID)

		logger := observability.WithCorrelationID(correlationID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		observability.RecordHTTPRequest(c.Request.Method, route, status, duration)

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// OriginPolicy decides which browser origins may call the API
type OriginPolicy struct {
	AllowedOrigin string // exact origin allowed in addition to *.github.io
	AllowAll      bool   // development mode
}

// Allowed reports whether origin may call the API
func (p OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.AllowAll {
		return true
	}
	if p.AllowedOrigin != "" && origin == p.AllowedOrigin {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "github.io" || strings.HasSuffix(host, ".github.io")
}

// requestOrigin falls back to the Referer's origin when Origin is absent
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// CORS sets cross-origin headers for allowed origins and answers preflight requests
func CORS(policy OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := requestOrigin(c.Request)
		allowed := policy.Allowed(origin)

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
			c.Header("Access-Control-Allow-Headers", "Content-Type, x-api-key, x-user-id")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			if allowed {
				c.AbortWithStatus(http.StatusOK)
			} else {
				c.AbortWithStatus(http.StatusForbidden)
			}
			return
		}

		c.Next()
	}
}

// APIKey rejects requests without the configured x-api-key. A server without
// a key configured refuses every request.
func APIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			observability.FromContext(c.Request.Context()).Error().Msg("API_KEY not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
			return
		}

		got := c.GetHeader(headerAPIKey)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}

		c.Next()
	}
}
