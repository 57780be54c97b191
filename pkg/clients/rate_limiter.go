// Package clients provides shared API access primitives: rate limiting,
// circuit breaking, and a JSON HTTP client with typed error classification.
package clients

import (
	"context"
	"sync"
	"time"

	"github.com/ideagen/harvester/pkg/errors"
)

// RateLimiter controls the pace of outbound API calls.
type RateLimiter interface {
	// Wait blocks until a call may proceed or the context is cancelled.
	Wait(ctx context.Context) error
	// Allow reports whether a call may proceed without blocking,
	// consuming a slot when it may.
	Allow() bool
	// GetStats returns a snapshot of limiter state.
	GetStats() RateLimiterStats
}

// RateLimiterStats is a point-in-time snapshot of limiter state.
type RateLimiterStats struct {
	Limit    int
	Window   time.Duration
	InWindow int
	NextSlot time.Duration
}

// Clock abstracts wall time so limiter behavior is testable without
// real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	case <-timer.C:
		return nil
	}
}

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }

// SlidingWindowRateLimiter admits at most limit calls per rolling window.
// Call timestamps are kept in admission order; a full window blocks until
// the oldest timestamp ages out.
type SlidingWindowRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	clock  Clock
}

// NewSlidingWindowRateLimiter creates a limiter admitting limit calls per
// 60-second rolling window.
func NewSlidingWindowRateLimiter(limit int) *SlidingWindowRateLimiter {
	return NewSlidingWindowRateLimiterWithClock(limit, time.Minute, systemClock{})
}

// NewSlidingWindowRateLimiterWithClock creates a limiter with an explicit
// window and clock.
func NewSlidingWindowRateLimiterWithClock(limit int, window time.Duration, clock Clock) *SlidingWindowRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowRateLimiter{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, limit),
		clock:  clock,
	}
}

// Wait blocks until the call is admitted or ctx is cancelled. Timestamps
// are recorded at admission time, before the caller issues its request.
func (rl *SlidingWindowRateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}

		rl.mu.Lock()
		now := rl.clock.Now()
		rl.evict(now)
		if len(rl.calls) < rl.limit {
			rl.calls = append(rl.calls, now)
			rl.mu.Unlock()
			return nil
		}
		wait := rl.window - now.Sub(rl.calls[0])
		rl.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := rl.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Allow admits the call immediately when a slot is free.
func (rl *SlidingWindowRateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.evict(now)
	if len(rl.calls) >= rl.limit {
		return false
	}
	rl.calls = append(rl.calls, now)
	return true
}

// GetStats returns current limiter occupancy and the delay until the next
// slot frees when the window is full.
func (rl *SlidingWindowRateLimiter) GetStats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.evict(now)

	stats := RateLimiterStats{
		Limit:    rl.limit,
		Window:   rl.window,
		InWindow: len(rl.calls),
	}
	if len(rl.calls) >= rl.limit {
		stats.NextSlot = rl.window - now.Sub(rl.calls[0])
	}
	return stats
}

// evict drops timestamps older than the window. Caller holds rl.mu.
func (rl *SlidingWindowRateLimiter) evict(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.calls) && !rl.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.calls = append(rl.calls[:0], rl.calls[i:]...)
	}
}
