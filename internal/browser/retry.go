package browser

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// retryPolicy bounds session-creation retries with exponential, jittered
// backoff. Context cancellation and non-timeout network errors end the
// attempt loop immediately.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy(maxAttempts int) *retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &retryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

// ShouldRetry reports whether another attempt is allowed after err on the
// given zero-based attempt number.
func (p *retryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts-1 {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the pause before the next attempt: half the exponential
// delay plus random jitter up to the other half.
func (p *retryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.baseDelay << uint(attempt)
	if delay <= 0 || delay > p.maxDelay {
		delay = p.maxDelay
	}
	half := delay / 2
	return half + randomJitter(half)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}
