package governance

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig defines token-bucket settings for one admission key.
type LimiterConfig struct {
	PerSecond int
	Burst     int
}

// Limiter implements token-bucket admission control per key. Keys with no
// configuration are admitted unconditionally.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  map[string]LimiterConfig
}

// NewLimiter creates a limiter with the provided per-key configuration.
func NewLimiter(config map[string]LimiterConfig) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*tokenBucket),
		config:  make(map[string]LimiterConfig),
	}
	l.Configure(config)
	return l
}

// Configure replaces the per-key limits. Existing buckets keep their token
// balance so a reload never grants a fresh burst.
func (l *Limiter) Configure(config map[string]LimiterConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.config = make(map[string]LimiterConfig, len(config))
	for key, cfg := range config {
		l.config[key] = cfg
	}

	next := make(map[string]*tokenBucket, len(config))
	for key, cfg := range config {
		if bucket, exists := l.buckets[key]; exists {
			bucket.configure(cfg.PerSecond, cfg.Burst)
			next[key] = bucket
		} else {
			next[key] = newTokenBucket(cfg.PerSecond, cfg.Burst)
		}
	}
	l.buckets = next
}

// Allow reports whether one unit of work for the key should be admitted.
func (l *Limiter) Allow(key string) bool {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if !exists {
		return true
	}
	return bucket.take()
}

// AllowContext is Allow with context cancellation short-circuiting to a
// rejection.
func (l *Limiter) AllowContext(ctx context.Context, key string) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return l.Allow(key)
}

// Stats returns the current bucket state for every configured key.
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.buckets))
	for key, bucket := range l.buckets {
		stats[key] = bucket.stats()
	}
	return stats
}

// LimiterStats exposes the current state of one admission bucket.
type LimiterStats struct {
	Limit      int     `json:"limit"`
	Burst      int     `json:"burst"`
	Available  float64 `json:"available"`
	LastRefill string  `json:"lastRefill"`
}

// tokenBucket implements the token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64 // maximum burst
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(perSecond, burst int) *tokenBucket {
	if perSecond <= 0 {
		perSecond = 100
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &tokenBucket{
		rate:       float64(perSecond),
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) configure(perSecond, burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if perSecond <= 0 {
		perSecond = 100
	}
	if burst <= 0 {
		burst = perSecond
	}

	oldCapacity := tb.capacity
	tb.rate = float64(perSecond)
	tb.capacity = float64(burst)

	// A raised cap grants the difference; a lowered cap clips the balance.
	if tb.capacity > oldCapacity {
		tb.tokens += tb.capacity - oldCapacity
	}
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *tokenBucket) stats() LimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return LimiterStats{
		Limit:      int(tb.rate),
		Burst:      int(tb.capacity),
		Available:  tb.tokens,
		LastRefill: tb.lastRefill.Format(time.RFC3339),
	}
}
