package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careconnect-backend/pkg/database"
)

// newDegradedRedis builds a client against an address nothing listens on,
// so every Safe operation fails fast.
func newDegradedRedis(t *testing.T) *database.RedisClient {
	t.Helper()
	client := database.NewRedisClient(&database.RedisConfig{
		Host:    "127.0.0.1",
		Port:    1,
		Timeout: 100 * time.Millisecond,
	})
	require.True(t, client.IsDegraded())
	return client
}

func TestRateLimiter_FailsOpenWhileDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(newDegradedRedis(t), 1, time.Minute, "call_placement")

	router := gin.New()
	router.POST("/calls", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	// Well past the limit of 1; with the limiter's store down every
	// request must still go through, without rate-limit headers.
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/calls", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}
