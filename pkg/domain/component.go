package domain

import "sort"

// State tracks where a component currently is in its lifecycle.
type State string

const (
	// StateRegistered is the initial state after a descriptor is discovered.
	StateRegistered State = "registered"
	// StateResolved indicates the component's dependencies resolved to a start order.
	StateResolved State = "resolved"
	// StateInitializing indicates OnAttach is in progress.
	StateInitializing State = "initializing"
	// StateInitialized indicates OnAttach completed successfully.
	StateInitialized State = "initialized"
	// StateStarting indicates the component is transitioning to Running.
	StateStarting State = "starting"
	// StateRunning indicates the component is live and its contributions are active.
	StateRunning State = "running"
	// StateStopping indicates OnDetach is in progress.
	StateStopping State = "stopping"
	// StateStopped indicates the component stopped cleanly.
	StateStopped State = "stopped"
	// StateFailed is terminal for the current lifecycle attempt.
	StateFailed State = "failed"
	// StateUnloaded is reached only from Stopped; the component's code and
	// boundary have been released (hot reload or permanent removal).
	StateUnloaded State = "unloaded"
)

// IsolationLevel selects how strictly a component's module references are policed.
type IsolationLevel string

const (
	// IsolationNone shares everything from the trusted host.
	IsolationNone IsolationLevel = "none"
	// IsolationStandard is the default parent-last policy: a component's own
	// copy of a module wins over a same-named shared module.
	IsolationStandard IsolationLevel = "standard"
	// IsolationStrict confines the component to its allow-list plus the shared core.
	IsolationStrict IsolationLevel = "strict"
)

// IsolationRequirements declares a component's loading policy. Immutable once
// the component's load boundary has been constructed.
type IsolationRequirements struct {
	Level IsolationLevel
	// AllowedModules, when non-empty, is authoritative: anything outside it
	// (and outside the shared core) is rejected.
	AllowedModules []string
	BlockedModules []string
}

// ComponentDescriptor is the identity record for a component. The State field
// is mutated only by the lifecycle manager, never by the component itself.
type ComponentDescriptor struct {
	ID           string
	Name         string
	Version      string
	Dependencies []string
	State        State
	Isolation    IsolationRequirements
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the manager-owned descriptor to mutation.
func (d *ComponentDescriptor) Clone() *ComponentDescriptor {
	out := *d
	out.Dependencies = append([]string(nil), d.Dependencies...)
	out.Isolation.AllowedModules = append([]string(nil), d.Isolation.AllowedModules...)
	out.Isolation.BlockedModules = append([]string(nil), d.Isolation.BlockedModules...)
	return &out
}

// SortedDependencies returns the dependency set in lexicographic order.
func (d *ComponentDescriptor) SortedDependencies() []string {
	deps := append([]string(nil), d.Dependencies...)
	sort.Strings(deps)
	return deps
}
