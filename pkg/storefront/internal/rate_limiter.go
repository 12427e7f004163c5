package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a fixed-window per-client limiter for webhook endpoints.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	calls   int

	// sweepEvery bounds how often expired windows are dropped
	sweepEvery int
	now        func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per client within each period.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:    make(map[string]*window),
		limit:      limit,
		period:     period,
		sweepEvery: 100,
		now:        time.Now,
	}
}

// Allow records a request from client and reports whether it is within the limit.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%rl.sweepEvery == 0 || len(rl.windows) > 2*rl.sweepEvery {
		rl.sweep(now)
	}

	w, ok := rl.windows[client]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[client] = &window{count: 1, resetAt: now.Add(rl.period)}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	for client, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, client)
		}
	}
}

// Tracked returns the number of clients with an open window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(rl.now())
	return len(rl.windows)
}

// Middleware rejects requests over the limit with 429 and calls onLimited when set.
func (rl *RateLimiter) Middleware(next http.Handler, onLimited func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			if onLimited != nil {
				onLimited()
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, or the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
