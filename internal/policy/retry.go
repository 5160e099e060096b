package policy

import (
	"context"
	"errors"
	"time"

	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/utils"
)

// PermanentError marks a failure that retrying cannot fix, such as a rejected request
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that retry policies give up on it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// retryPolicy implements RetryPolicy
type retryPolicy struct {
	enabled    bool
	maxRetries int
	backoff    utils.BackoffStrategy
}

// NewRetryPolicyFromConfig creates a retry policy from config
func NewRetryPolicyFromConfig(cfg *config.RetryPolicy) RetryPolicy {
	return NewRetryPolicy(cfg.Enabled, cfg.MaxRetries, cfg.Backoff, cfg.BaseMs, cfg.MaxMs)
}

// NewRetryPolicy creates a retry policy with explicit parameters. A zero maxMs caps the backoff at 30s.
func NewRetryPolicy(enabled bool, maxRetries int, backoff string, baseMs, maxMs int) RetryPolicy {
	return &retryPolicy{
		enabled:    enabled,
		maxRetries: maxRetries,
		backoff:    utils.BackoffFromConfig(backoff, baseMs, maxMs),
	}
}

func (p *retryPolicy) Enabled() bool {
	return p.enabled
}

func (p *retryPolicy) Name() string {
	return "retry"
}

func (p *retryPolicy) ShouldRetry(attempt int, err error) bool {
	if !p.enabled || err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	// a caller that gave up will not wait for another attempt
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (p *retryPolicy) GetBackoffDuration(attempt int) time.Duration {
	if !p.enabled || attempt <= 0 {
		return 0
	}
	return p.backoff.NextDelay(attempt - 1)
}

func (p *retryPolicy) GetMaxRetries() int {
	return p.maxRetries
}
