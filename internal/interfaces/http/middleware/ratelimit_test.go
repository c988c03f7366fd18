package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allow   bool
	err     error
	lastKey string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.lastKey = key
	return f.allow, f.err
}

func newRateLimitRouter(cfg RateLimitConfig, limiter RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(cfg, limiter))
	r.GET("/v1/answers", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimitAllows(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	r := newRateLimitRouter(RateLimitConfig{Enabled: true, RequestsPerSecond: 10}, limiter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/answers", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, limiter.lastKey, "/v1/answers")
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	r := newRateLimitRouter(RateLimitConfig{Enabled: true, RequestsPerSecond: 1}, limiter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/answers", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	r := newRateLimitRouter(RateLimitConfig{Enabled: true, RequestsPerSecond: 1}, limiter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/answers", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	r := newRateLimitRouter(RateLimitConfig{Enabled: false}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/answers", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
