package governance

import (
	"sync"
	"time"
)

// TimeoutBudget selects the execution deadline for keyed workloads: a
// default for everything, per-key overrides, and a hard ceiling that no
// override may exceed.
type TimeoutBudget struct {
	mu      sync.RWMutex
	def     time.Duration
	ceiling time.Duration
	perKey  map[string]time.Duration
}

// NewTimeoutBudget creates a budget. A non-positive ceiling means no ceiling.
func NewTimeoutBudget(def, ceiling time.Duration) *TimeoutBudget {
	return &TimeoutBudget{
		def:     def,
		ceiling: ceiling,
		perKey:  make(map[string]time.Duration),
	}
}

// Set installs a per-key override. A non-positive duration removes it.
func (b *TimeoutBudget) Set(key string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d <= 0 {
		delete(b.perKey, key)
		return
	}
	b.perKey[key] = d
}

// Configure replaces the default and every override at once.
func (b *TimeoutBudget) Configure(def time.Duration, perKey map[string]time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.def = def
	b.perKey = make(map[string]time.Duration, len(perKey))
	for key, d := range perKey {
		if d > 0 {
			b.perKey[key] = d
		}
	}
}

// For returns the deadline for the key: its override when present, otherwise
// the default, in both cases clamped to the ceiling.
func (b *TimeoutBudget) For(key string) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d := b.def
	if override, ok := b.perKey[key]; ok {
		d = override
	}
	if b.ceiling > 0 && (d <= 0 || d > b.ceiling) {
		d = b.ceiling
	}
	return d
}
