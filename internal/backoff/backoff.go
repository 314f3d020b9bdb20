// Package backoff implements a bounded-attempt exponential backoff policy
// for provider calls. The delay schedule follows the gRPC connection backoff
// scheme: delay(n) = BaseDelay * Multiplier^n, randomized by Jitter and
// capped at MaxDelay.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Config defines the delay schedule.
type Config struct {
	// BaseDelay is the amount of time to back off after the first failure.
	BaseDelay time.Duration
	// Multiplier is the factor with which to multiply backoffs after a
	// failed retry. Should ideally be greater than 1.
	Multiplier float64
	// Jitter is the factor with which backoffs are randomized.
	Jitter float64
	// MaxDelay is the upper bound of backoff delay.
	MaxDelay time.Duration
}

// DefaultConfig mirrors the gRPC connection-backoff defaults.
var DefaultConfig = Config{
	BaseDelay:  1 * time.Second,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   120 * time.Second,
}

// Policy is a bounded retry policy passed into provisioning steps, never
// hand-rolled per call site.
type Policy struct {
	MaxAttempts int
	Config      Config
}

// NewPolicy returns a policy with the given attempt bound and base delay,
// keeping the default multiplier, jitter and cap.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	cfg := DefaultConfig
	if baseDelay > 0 {
		cfg.BaseDelay = baseDelay
	}
	return Policy{MaxAttempts: maxAttempts, Config: cfg}
}

// Delay returns the randomized delay before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	cfg := p.Config
	if attempt == 0 {
		return cfg.BaseDelay
	}

	backoff, max := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for backoff < max && attempt > 0 {
		backoff *= cfg.Multiplier
		attempt--
	}
	if backoff > max {
		backoff = max
	}

	// Randomize backoff delays so that if a cluster of requests start at the
	// same time, they won't operate in lockstep.
	backoff *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}

	return time.Duration(backoff)
}

// Do runs op up to MaxAttempts times, sleeping the scheduled delay between
// attempts. Only errors classified transient by isTransient are retried;
// permanent errors and context cancellation surface immediately. The last
// error is returned once the budget is exhausted.
func (p Policy) Do(ctx context.Context, op func(context.Context) error, isTransient func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
