// Package base provides shared building blocks for platform adapters.
package base

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/logger"
)

// RetryPolicy retries transient failures with exponential backoff.
// A server-supplied Retry-After hint overrides the computed backoff
// when it is larger.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultRetryPolicy returns the standard policy for connector calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// RetryPolicyFromConfig builds a policy from connector configuration.
func RetryPolicyFromConfig(cfg config.RetryConfig) *RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// Execute runs fn, retrying retryable failures up to MaxAttempts total
// attempts. Non-retryable errors propagate immediately.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "retry cancelled")
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delayFor(attempt, lastErr)
		logger.WithContext(ctx).Debug("retrying after failure",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeExtraction, "retries exhausted").
		WithDetail("attempts", p.MaxAttempts)
}

// delayFor computes the pause before the next attempt.
func (p *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		jitter := time.Duration(rand.Float64() * p.Jitter * float64(delay))
		delay += jitter
	}
	if hint := errors.RetryAfter(err); hint > delay {
		delay = hint
	}
	return delay
}
