// Package ratelimit implements keyed token-bucket pacing so parallel workers
// share one navigation budget per target host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"applybot/internal/metrics"
)

// Limiter manages one token bucket per key. Keys are usually hostnames; the
// caller decides what granularity to pace at.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// Config holds pacing configuration.
type Config struct {
	// RPS is the sustained token refill rate per key. Zero or negative
	// disables pacing.
	RPS float64
	// Burst is the bucket size per key, minimum 1.
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for key, respecting the context.
// Waits long enough to matter are recorded as rate-limit delay observations.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, duration)
	}
	return nil
}
