package policy

import (
	"sync"
	"time"
)

// circuitBreakerPolicy implements CircuitBreakerPolicy with one circuit per target
type circuitBreakerPolicy struct {
	enabled bool
	// failureThreshold is the number of consecutive failures before opening the circuit
	failureThreshold int
	// successThreshold is the number of successes needed in half-open state to close
	successThreshold int
	// timeout is how long the circuit stays open before transitioning to half-open
	timeout  time.Duration
	circuits map[string]*circuitState
	mu       sync.RWMutex
}

type circuitState struct {
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time
	mu              sync.Mutex
}

// NewCircuitBreakerPolicy creates a new circuit breaker policy
func NewCircuitBreakerPolicy(enabled bool, failureThreshold, successThreshold int, timeout time.Duration) CircuitBreakerPolicy {
	return &circuitBreakerPolicy{
		enabled:          enabled,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		circuits:         make(map[string]*circuitState),
	}
}

func (p *circuitBreakerPolicy) Enabled() bool {
	return p.enabled
}

func (p *circuitBreakerPolicy) Name() string {
	return "circuit_breaker"
}

func (p *circuitBreakerPolicy) circuit(target string, now time.Time, create bool) *circuitState {
	p.mu.RLock()
	c, ok := p.circuits[target]
	p.mu.RUnlock()
	if ok || !create {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.circuits[target]; !ok {
		c = &circuitState{state: CircuitStateClosed, lastStateChange: now}
		p.circuits[target] = c
	}
	return c
}

// refresh moves an expired open circuit to half-open; caller holds c.mu
func (p *circuitBreakerPolicy) refresh(c *circuitState, now time.Time) {
	if c.state == CircuitStateOpen && now.Sub(c.lastStateChange) >= p.timeout {
		c.state = CircuitStateHalfOpen
		c.successCount = 0
		c.lastStateChange = now
	}
}

func (p *circuitBreakerPolicy) AllowRequest(target string, now time.Time) bool {
	if !p.enabled {
		return true
	}
	c := p.circuit(target, now, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	p.refresh(c, now)
	return c.state != CircuitStateOpen
}

func (p *circuitBreakerPolicy) RecordSuccess(target string, now time.Time) {
	if !p.enabled {
		return
	}
	c := p.circuit(target, now, false)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case CircuitStateHalfOpen:
		c.successCount++
		if c.successCount >= p.successThreshold {
			c.state = CircuitStateClosed
			c.failureCount = 0
			c.lastStateChange = now
		}
	case CircuitStateClosed:
		c.failureCount = 0
	}
}

func (p *circuitBreakerPolicy) RecordFailure(target string, now time.Time) {
	if !p.enabled {
		return
	}
	c := p.circuit(target, now, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	switch c.state {
	case CircuitStateHalfOpen:
		// one failed trial request reopens the circuit
		c.state = CircuitStateOpen
		c.successCount = 0
		c.lastStateChange = now
	case CircuitStateClosed:
		if c.failureCount >= p.failureThreshold {
			c.state = CircuitStateOpen
			c.lastStateChange = now
		}
	}
}

func (p *circuitBreakerPolicy) CheckAndGetState(target string, now time.Time) CircuitState {
	if !p.enabled {
		return CircuitStateClosed
	}
	c := p.circuit(target, now, false)
	if c == nil {
		return CircuitStateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p.refresh(c, now)
	return c.state
}
