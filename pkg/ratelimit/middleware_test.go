package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"securebus/internal/config"
)

func TestFromConfigKeepsDefaults(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RPS: 2.5, MaxAge: 30})

	assert.Equal(t, 2.5, cfg.RPS)
	assert.Equal(t, DefaultConfig().Burst, cfg.Burst)
	assert.Equal(t, DefaultConfig().CleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxAge)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := gin.New()
	router.Use(RateLimitMiddleware(ctx, RateLimitConfig{
		RPS:             0.001,
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	}))
	router.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSweepDropsIdleClients(t *testing.T) {
	limiters := newClientLimiters(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	start := time.Now()

	limiters.allow("10.0.0.1", start)
	limiters.allow("10.0.0.2", start.Add(50*time.Second))

	limiters.sweep(start.Add(90 * time.Second))

	assert.NotContains(t, limiters.clients, "10.0.0.1")
	assert.Contains(t, limiters.clients, "10.0.0.2")
}
