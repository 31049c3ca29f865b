// Package registry is the single source of truth mapping component ids to
// their running instances and descriptors. Ids are unique; a registration
// for a taken id is rejected without touching the existing entry.
package registry

import (
	"sort"
	"sync"

	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

type entry struct {
	instance   component.Component
	descriptor *domain.ComponentDescriptor
}

// Registry holds the running components. Safe for concurrent registration,
// lookup, and removal; the uniqueness check-and-insert is atomic with
// respect to other Register calls.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register stores the instance and descriptor iff the id is free. On a
// duplicate it returns DuplicateRegistrationError and leaves the existing
// entry untouched.
func (r *Registry) Register(id string, instance component.Component, descriptor *domain.ComponentDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return &domain.DuplicateRegistrationError{ID: id}
	}
	r.entries[id] = entry{instance: instance, descriptor: descriptor}
	return nil
}

// Get returns the running instance for the id.
func (r *Registry) Get(id string) (component.Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.instance, ok
}

// Component implements component.Lookup.
func (r *Registry) Component(id string) (component.Component, bool) {
	return r.Get(id)
}

// GetDescriptor returns a copy of the descriptor for the id.
func (r *Registry) GetDescriptor(id string) (*domain.ComponentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.descriptor.Clone(), true
}

// IsRegistered reports whether the id is taken.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// AllDescriptors returns a point-in-time snapshot of every registered
// descriptor, ordered by id. Not a live view.
func (r *Registry) AllDescriptors() []*domain.ComponentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ComponentDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unregister removes the entry. No-op when absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
