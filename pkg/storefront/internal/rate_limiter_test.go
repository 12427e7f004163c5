package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsWithinWindow(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "other clients are independent")
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(1, time.Second)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("a"))
}

func TestRateLimiter_SweepsExpiredClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(10, time.Second)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 150; i++ {
		limiter.Allow(fmt.Sprintf("192.168.1.%d", i))
	}
	assert.Equal(t, 150, limiter.Tracked())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 0, limiter.Tracked())
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	limited := 0
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), func() { limited++ })

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, limited)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	assert.Equal(t, "198.51.100.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	assert.Equal(t, "203.0.113.1", ClientIP(req))
}
