package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Acquire(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  3,
		RefillRate: 10, // Fast refill for testing
	}
	limiter := NewRateLimiter(cfg)
	ctx := context.Background()

	// Should acquire immediately (bucket starts full)
	start := time.Now()
	err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("first acquire should be immediate")
	}

	// Drain the bucket
	limiter.TryAcquire()
	limiter.TryAcquire()

	// Next acquire should wait for refill
	start = time.Now()
	err = limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	// With 10 tokens/second, should wait ~100ms
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("acquire should wait for refill, elapsed = %v", elapsed)
	}
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  2,
		RefillRate: 0.1, // Very slow refill
	}
	limiter := NewRateLimiter(cfg)

	// Should acquire twice (bucket capacity = 2)
	if !limiter.TryAcquire() {
		t.Error("first TryAcquire should succeed")
	}
	if !limiter.TryAcquire() {
		t.Error("second TryAcquire should succeed")
	}

	// Third should fail (bucket empty)
	if limiter.TryAcquire() {
		t.Error("third TryAcquire should fail")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  5,
		RefillRate: 10, // 10 tokens per second
	}
	limiter := NewRateLimiter(cfg)

	// Drain bucket
	for limiter.TryAcquire() {
	}

	initial := limiter.Available()
	if initial > 0.5 {
		t.Errorf("Available after drain = %v, want ~0", initial)
	}

	// Wait for refill
	time.Sleep(200 * time.Millisecond)

	// Should have ~2 tokens (200ms * 10/s)
	available := limiter.Available()
	if available < 1.5 || available > 2.5 {
		t.Errorf("Available after 200ms = %v, want ~2", available)
	}
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  1,
		RefillRate: 0.01, // Very slow
	}
	limiter := NewRateLimiter(cfg)

	// Drain bucket
	limiter.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRateLimiter_AcquireN(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  5,
		RefillRate: 100, // Fast
	}
	limiter := NewRateLimiter(cfg)
	ctx := context.Background()

	err := limiter.AcquireN(ctx, 3)
	if err != nil {
		t.Fatalf("AcquireN() error = %v", err)
	}

	// Should have ~2 tokens left
	available := limiter.Available()
	if available < 1.5 || available > 2.5 {
		t.Errorf("Available = %v, want ~2", available)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.MaxTokens != 10 {
		t.Errorf("MaxTokens = %v, want 10", cfg.MaxTokens)
	}
	if cfg.RefillRate != 1 {
		t.Errorf("RefillRate = %v, want 1", cfg.RefillRate)
	}
}

func TestRateLimiter_MaxTokensCap(t *testing.T) {
	cfg := RateLimiterConfig{
		MaxTokens:  5,
		RefillRate: 100, // Very fast
	}
	limiter := NewRateLimiter(cfg)

	// Wait for potential over-refill
	time.Sleep(100 * time.Millisecond)

	// Available should not exceed MaxTokens
	available := limiter.Available()
	if available > cfg.MaxTokens {
		t.Errorf("Available = %v, should not exceed MaxTokens = %v", available, cfg.MaxTokens)
	}
}
