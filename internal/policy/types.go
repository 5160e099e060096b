package policy

import (
	"time"

	"github.com/rodline/procopt/pkg/config"
)

// Policy represents a generic policy interface
type Policy interface {
	// Enabled returns whether the policy is enabled
	Enabled() bool
	// Name returns the policy name for identification
	Name() string
}

// RetryPolicy decides whether a failed oracle call is attempted again
type RetryPolicy interface {
	Policy
	// ShouldRetry determines if a call should be retried after attempt (0-indexed) failed with err
	ShouldRetry(attempt int, err error) bool
	// GetBackoffDuration calculates the wait before retry number attempt (1-indexed)
	GetBackoffDuration(attempt int) time.Duration
	// GetMaxRetries returns the maximum number of retries allowed
	GetMaxRetries() int
}

// CircuitBreakerPolicy stops calling a target that keeps failing
type CircuitBreakerPolicy interface {
	Policy
	// AllowRequest checks if a call to target should be made (circuit not open)
	AllowRequest(target string, now time.Time) bool
	// RecordSuccess records a successful call
	RecordSuccess(target string, now time.Time)
	// RecordFailure records a failed call
	RecordFailure(target string, now time.Time)
	// CheckAndGetState returns the circuit state, moving open circuits to half-open once the timeout passed
	CheckAndGetState(target string, now time.Time) CircuitState
}

// RateLimitingPolicy bounds how often a key may start expensive work
type RateLimitingPolicy interface {
	Policy
	// AllowRequest consumes one token for key if available
	AllowRequest(key string, now time.Time) bool
	// GetRemainingQuota returns the tokens left for key, or -1 when unlimited
	GetRemainingQuota(key string, now time.Time) int
}

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"   // Normal operation
	CircuitStateOpen     CircuitState = "open"     // Failing, rejecting calls
	CircuitStateHalfOpen CircuitState = "halfopen" // Probing whether the target recovered
)

// Manager bundles the policies guarding the prediction oracle
type Manager struct {
	retry          RetryPolicy
	circuitBreaker CircuitBreakerPolicy
}

// NewPolicyManager creates a policy manager from the oracle configuration.
// Disabled or missing sections leave the corresponding policy nil.
func NewPolicyManager(cfg config.OracleConfig) *Manager {
	pm := &Manager{}
	if cfg.Retries != nil && cfg.Retries.Enabled {
		pm.retry = NewRetryPolicyFromConfig(cfg.Retries)
	}
	if cb := cfg.CircuitBreaker; cb != nil && cb.Enabled {
		pm.circuitBreaker = NewCircuitBreakerPolicy(true, cb.FailureThreshold, cb.SuccessThreshold,
			time.Duration(cb.TimeoutMs)*time.Millisecond)
	}
	return pm
}

// GetRetry returns the retry policy if enabled
func (pm *Manager) GetRetry() RetryPolicy {
	return pm.retry
}

// GetCircuitBreaker returns the circuit breaker policy if enabled
func (pm *Manager) GetCircuitBreaker() CircuitBreakerPolicy {
	return pm.circuitBreaker
}
