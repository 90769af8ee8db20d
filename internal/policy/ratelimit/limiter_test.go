package ratelimit

import (
	"context"
	"testing"
	"time"

	"applybot/internal/metrics"
)

func TestLimiterWait(t *testing.T) {
	metrics.Init()

	// 10 RPS with burst 1: the first token is free, the next arrives 100ms
	// later.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "jobs.nvoids.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	if err := l.Wait(ctx, "jobs.nvoids.com"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterSeparateKeys(t *testing.T) {
	metrics.Init()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "a.example.com"); err != nil {
		t.Fatal(err)
	}

	// A different key has its own bucket and must not be blocked.
	start := time.Now()
	if err := l.Wait(ctx, "b.example.com"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("key b blocked unexpectedly")
	}
}

func TestLimiterZeroRPSNeverBlocks(t *testing.T) {
	metrics.Init()

	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "jobs.nvoids.com"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("unlimited limiter blocked for %v", time.Since(start))
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	metrics.Init()

	l := New(Config{RPS: 0.001, Burst: 1})
	ctx := context.Background()

	// Drain the only token, then ask again under a short deadline.
	if err := l.Wait(ctx, "jobs.nvoids.com"); err != nil {
		t.Fatal(err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(shortCtx, "jobs.nvoids.com"); err == nil {
		t.Fatal("expected context deadline to end the wait")
	}
}
