// Package ratelimit gates outbound venue calls behind a token bucket shared
// per credential scope.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with capacity C refilled at R tokens per second.
// Refill is computed lazily from elapsed time on each acquisition; acquisition
// and refill happen under one internal mutex, so the limiter is safe for
// concurrent callers.
type Limiter struct {
	bucket   *rate.Limiter
	capacity int
}

// New constructs a limiter with the given burst capacity and refill rate.
// A non-positive capacity defaults to 1; a non-positive refill rate leaves
// the limiter unlimited.
func New(capacity int, refillPerSecond float64) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	limit := rate.Limit(refillPerSecond)
	if refillPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		bucket:   rate.NewLimiter(limit, capacity),
		capacity: capacity,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.bucket.Wait(ctx)
}

// Allow consumes a token without blocking, reporting whether one was free.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow()
}

// Capacity returns the configured burst capacity.
func (l *Limiter) Capacity() int {
	if l == nil {
		return 0
	}
	return l.capacity
}
