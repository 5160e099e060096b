package policy

import (
	"sync"
	"time"
)

// rateLimitingPolicy implements RateLimitingPolicy using a token bucket per key
type rateLimitingPolicy struct {
	enabled bool
	// burst is the bucket capacity
	burst int
	// interval is the time needed to earn one token back
	interval time.Duration
	buckets  map[string]*tokenBucket
	mu       sync.RWMutex
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimitingPolicy creates a limiter allowing burst calls per key and
// refilling one token every interval
func NewRateLimitingPolicy(enabled bool, burst int, interval time.Duration) RateLimitingPolicy {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitingPolicy{
		enabled:  enabled,
		burst:    burst,
		interval: interval,
		buckets:  make(map[string]*tokenBucket),
	}
}

func (p *rateLimitingPolicy) Enabled() bool {
	return p.enabled
}

func (p *rateLimitingPolicy) Name() string {
	return "rate_limiting"
}

func (p *rateLimitingPolicy) bucket(key string, now time.Time) *tokenBucket {
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[key]; !ok {
		b = &tokenBucket{tokens: p.burst, lastRefill: now}
		p.buckets[key] = b
	}
	return b
}

// refill adds the tokens earned since the last refill; caller holds b.mu
func (p *rateLimitingPolicy) refill(b *tokenBucket, now time.Time) {
	if p.interval <= 0 {
		b.tokens = p.burst
		b.lastRefill = now
		return
	}
	earned := int(now.Sub(b.lastRefill) / p.interval)
	if earned <= 0 {
		return
	}
	b.tokens += earned
	if b.tokens > p.burst {
		b.tokens = p.burst
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(earned) * p.interval)
}

func (p *rateLimitingPolicy) AllowRequest(key string, now time.Time) bool {
	if !p.enabled {
		return true
	}
	b := p.bucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	p.refill(b, now)
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (p *rateLimitingPolicy) GetRemainingQuota(key string, now time.Time) int {
	if !p.enabled {
		return -1
	}
	b := p.bucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	p.refill(b, now)
	return b.tokens
}
