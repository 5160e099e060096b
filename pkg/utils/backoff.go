package utils

import (
	"context"
	"math"
	"time"
)

// BackoffStrategy represents a retry backoff strategy
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (0-indexed)
	NextDelay(attempt int) time.Duration
}

// ConstantBackoff waits the same delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns the constant delay
func (cb *ConstantBackoff) NextDelay(int) time.Duration {
	return cb.Delay
}

// LinearBackoff grows the delay by BaseDelay per attempt up to MaxDelay
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NextDelay returns the linearly increasing delay
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := lb.BaseDelay * time.Duration(attempt+1)
	if delay > lb.MaxDelay {
		return lb.MaxDelay
	}
	return delay
}

// ExponentialBackoff multiplies the delay per attempt, optionally with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// NextDelay returns the exponentially increasing delay
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	multiplier := eb.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(eb.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if eb.Jitter {
		// jitter factor in [0.5, 1.5)
		delay *= 0.5 + Float64()
	}
	return time.Duration(delay)
}

// BackoffFromConfig creates a backoff strategy from config parameters.
// Unknown types fall back to exponential with jitter; maxMs 0 caps at 30s.
func BackoffFromConfig(backoffType string, baseMs int, maxMs int) BackoffStrategy {
	baseDelay := time.Duration(baseMs) * time.Millisecond
	maxDelay := time.Duration(maxMs) * time.Millisecond
	if maxDelay == 0 {
		maxDelay = 30 * time.Second
	}

	switch backoffType {
	case "constant":
		return &ConstantBackoff{Delay: baseDelay}
	case "linear":
		return &LinearBackoff{BaseDelay: baseDelay, MaxDelay: maxDelay}
	default:
		return &ExponentialBackoff{BaseDelay: baseDelay, Multiplier: 2.0, MaxDelay: maxDelay, Jitter: true}
	}
}

// Wait sleeps for d or until ctx is done, whichever comes first
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
