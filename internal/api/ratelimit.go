package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/lexiqai/trades-chat/internal/observability"
)

const errTooManyRequests = "Too many requests from this IP, please try again later."

// NewRateLimiter allows requests per window for each client IP, counted in memory
func NewRateLimiter(requests int, window time.Duration) *limiter.Limiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return limiter.New(memory.NewStore(), limiter.Rate{
		Period: window,
		Limit:  int64(requests),
	})
}

// RateLimit counts every request against the client IP and answers 429 once
// the window is used up
func RateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return mgin.NewMiddleware(l,
		mgin.WithKeyGetter(func(c *gin.Context) string {
			return c.ClientIP()
		}),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: errTooManyRequests})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			observability.FromContext(c.Request.Context()).Error().Err(err).Msg("Rate limiter failed")
			c.JSON(http.StatusInternalServerError, errorResponse{Error: errInternal})
		}),
	)
}

// allow counts one request for key outside the middleware chain
func allow(ctx context.Context, l *limiter.Limiter, key string) (bool, error) {
	lctx, err := l.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return !lctx.Reached, nil
}
