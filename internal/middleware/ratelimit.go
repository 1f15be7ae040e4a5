package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"careconnect-backend/pkg/database"
	"careconnect-backend/pkg/metrics"
)

// RateLimiter implements Redis-based fixed-window rate limiting, used to cap
// call placement and message sending per user. When Redis is degraded the
// limiter fails open: blocking every call because the limiter's store is down
// is a worse outcome than briefly not limiting.
type RateLimiter struct {
	redisClient *database.RedisClient
	requests    int
	window      time.Duration
	label       string
}

// NewRateLimiter creates a new rate limiter
// requests: maximum number of requests allowed
// window: time window for the rate limit (e.g., 1 minute)
// label: metrics label identifying the limited surface (e.g., "call_placement")
func NewRateLimiter(redisClient *database.RedisClient, requests int, window time.Duration, label string) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
		label:       label,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prefer the authenticated identity; fall back to client IP for
		// unauthenticated surfaces.
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		allowed, remaining, resetTime, err := rl.checkRateLimit(c.Request.Context(), identifier)
		if err != nil {
			// Fail-open: allow the request if Redis is unavailable
			c.Next()
			return
		}

		metrics.RecordRateLimitHit(rl.label)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			metrics.RecordRateLimitBlocked(rl.label)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"limit":     rl.requests,
				"remaining": remaining,
				"reset_at":  resetTime,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit counts the request against the identifier's current window.
func (rl *RateLimiter) checkRateLimit(ctx context.Context, identifier string) (bool, int, int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.label, identifier)

	count, err := rl.redisClient.SafeIncr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// First hit opens the window; the key expires with it.
	if count == 1 {
		if err := rl.redisClient.SafeExpire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetTime := time.Now().Add(rl.window).Unix()
	return int(count) <= rl.requests, remaining, resetTime, nil
}
