package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed right now without waiting
	Allow() bool
	// Acquire blocks until the rate limit admits another request or the
	// context is cancelled
	Acquire(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter with fractional QPS.
// Tokens refill continuously at qps tokens per second up to the burst
// capacity, so the long-run request rate never exceeds qps while up to
// burst requests may proceed immediately.
type TokenBucket struct {
	qps       float64
	burst     float64
	jitterMin float64 // jitter range as a fraction of the computed wait
	jitterMax float64
	tokens    float64
	last      time.Time
	mu        sync.Mutex
}

// NewTokenBucket creates a token bucket admitting qps requests per second
// with the given burst allowance. Jitter is disabled; use SetJitter to
// spread waits on production traffic.
func NewTokenBucket(qps float64, burst int) *TokenBucket {
	return &TokenBucket{
		qps:    qps,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// SetJitter configures the jitter fraction range applied to waits.
func (tb *TokenBucket) SetJitter(min, max float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.jitterMin = min
	tb.jitterMax = max
}

// Allow reports whether a token is available, consuming one if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Acquire consumes a token, sleeping until one accrues if necessary.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	tb.mu.Lock()
	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		tb.mu.Unlock()
		return nil
	}

	wait := time.Duration((1 - tb.tokens) / tb.qps * float64(time.Second))
	if tb.jitterMax > 0 {
		jitter := tb.jitterMin + rand.Float64()*(tb.jitterMax-tb.jitterMin)
		wait = time.Duration(float64(wait) * (1 + jitter))
	}
	tb.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	tb.mu.Lock()
	tb.tokens = 0
	tb.last = time.Now()
	tb.mu.Unlock()
	return nil
}

// Reset restores the bucket to full burst capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.burst
	tb.last = time.Now()
}

// refill accrues tokens for the time elapsed since the last update.
// Caller must hold the lock.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.last).Seconds()

	tb.tokens += elapsed * tb.qps
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}
	tb.last = now
}
