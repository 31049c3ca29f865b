package domain

import (
	"sync"
	"sync/atomic"
)

// Well-known keys in the ExecutionContext value bag.
const (
	// ValueRequestID carries the request correlation identifier.
	ValueRequestID = "request.id"
	// ValueLastError records the most recent behavior fault that an
	// error-handling wrapper converted into a result.
	ValueLastError = "chain.last_error"
)

// ExecutionContext carries one inbound message through a single chain
// execution. It is created per message, owned by the chain engine for the
// duration of one run, and never shared across requests.
type ExecutionContext struct {
	// Message is the inbound payload. Read-only by convention; behaviors
	// communicate through Result and the value bag.
	Message any

	mu        sync.RWMutex
	result    any
	values    map[string]any
	cancelled atomic.Bool
}

// NewExecutionContext creates a fresh context for one inbound message.
func NewExecutionContext(message any) *ExecutionContext {
	return &ExecutionContext{
		Message: message,
		values:  make(map[string]any),
	}
}

// Result returns the current result slot.
func (ec *ExecutionContext) Result() any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.result
}

// SetResult replaces the result slot.
func (ec *ExecutionContext) SetResult(v any) {
	ec.mu.Lock()
	ec.result = v
	ec.mu.Unlock()
}

// Value looks up a cross-behavior metadata entry.
func (ec *ExecutionContext) Value(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.values[key]
	return v, ok
}

// SetValue stores a cross-behavior metadata entry.
func (ec *ExecutionContext) SetValue(key string, v any) {
	ec.mu.Lock()
	ec.values[key] = v
	ec.mu.Unlock()
}

// Values returns a snapshot copy of the value bag.
func (ec *ExecutionContext) Values() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.values))
	for k, v := range ec.values {
		out[k] = v
	}
	return out
}

// Cancel marks the context cancelled. The chain engine checks the flag
// before invoking each behavior; cancellation is cooperative.
func (ec *ExecutionContext) Cancel() {
	ec.cancelled.Store(true)
}

// Cancelled reports whether the context has been cancelled.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.cancelled.Load()
}
