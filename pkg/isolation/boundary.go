package isolation

import (
	"fmt"

	"github.com/armatureio/armature/pkg/domain"
)

// Source classifies where a referenced module is loaded from.
type Source int

const (
	// SourceSharedCore resolves the module from the trusted host.
	SourceSharedCore Source = iota
	// SourcePrivate resolves the module from the component's own location.
	SourcePrivate
	// SourceRejected refuses the module; the component must not start.
	SourceRejected
)

// String returns the log-friendly name of the source.
func (s Source) String() string {
	switch s {
	case SourceSharedCore:
		return "shared-core"
	case SourcePrivate:
		return "private"
	case SourceRejected:
		return "rejected"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ModuleSet answers whether a module is resolvable from some location.
type ModuleSet interface {
	Contains(module string) bool
}

// StaticModuleSet is a fixed name set.
type StaticModuleSet map[string]struct{}

// NewStaticModuleSet builds a set from the given names.
func NewStaticModuleSet(names ...string) StaticModuleSet {
	s := make(StaticModuleSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Contains implements ModuleSet.
func (s StaticModuleSet) Contains(module string) bool {
	_, ok := s[module]
	return ok
}

// Policy holds the process-wide fixed shared-core set: the trusted API
// surface plus core runtime modules, always resolved from the host
// regardless of a component's isolation level.
type Policy struct {
	sharedCore StaticModuleSet
}

// NewPolicy creates the process-wide isolation policy.
func NewPolicy(sharedCore []string) *Policy {
	return &Policy{sharedCore: NewStaticModuleSet(sharedCore...)}
}

// SharedCore reports whether the module belongs to the fixed shared-core set.
func (p *Policy) SharedCore(module string) bool {
	return p.sharedCore.Contains(module)
}

// BoundaryFor constructs the load boundary for one component instance.
// The private set lists modules resolvable from the component's own
// location; the loader supplies it. Requirements are copied, honouring
// their immutability once the boundary exists.
func (p *Policy) BoundaryFor(componentID string, req domain.IsolationRequirements, private ModuleSet) *Boundary {
	if private == nil {
		private = StaticModuleSet{}
	}
	return &Boundary{
		componentID: componentID,
		level:       req.Level,
		allowed:     NewStaticModuleSet(req.AllowedModules...),
		blocked:     NewStaticModuleSet(req.BlockedModules...),
		private:     private,
		policy:      p,
	}
}

// Boundary is the per-component loading policy. Owned exclusively by the
// lifecycle manager for the lifetime of the component and released on
// stop/unload.
type Boundary struct {
	componentID string
	level       domain.IsolationLevel
	allowed     StaticModuleSet
	blocked     StaticModuleSet
	private     ModuleSet
	policy      *Policy
	released    bool
}

// ComponentID returns the owning component's id.
func (b *Boundary) ComponentID() string {
	return b.componentID
}

// Resolve classifies a module reference. The checks run in fixed precedence:
// shared core, level None, block-list, allow-list, parent-last private
// resolution, shared-core fallback. Rejections are fatal to the component's
// startup.
func (b *Boundary) Resolve(module string) (Source, error) {
	if b.released {
		return SourceRejected, fmt.Errorf("boundary for component %q already released", b.componentID)
	}

	// The shared core always wins, regardless of level.
	if b.policy.SharedCore(module) {
		return SourceSharedCore, nil
	}

	if b.level == domain.IsolationNone {
		return SourceSharedCore, nil
	}

	if b.blocked.Contains(module) {
		return SourceRejected, &domain.RestrictedModuleError{ComponentID: b.componentID, Module: module}
	}

	// A non-empty allow-list is authoritative for everything that survived
	// the block-list.
	if len(b.allowed) > 0 && !b.allowed.Contains(module) {
		return SourceRejected, &domain.RestrictedModuleError{ComponentID: b.componentID, Module: module}
	}

	// Parent-last: the component's own copy shadows a same-named shared
	// module, preventing cross-component version collisions.
	if b.level == domain.IsolationStandard && b.private.Contains(module) {
		return SourcePrivate, nil
	}

	return SourceSharedCore, nil
}

// Release marks the boundary destroyed. Further Resolve calls fail. The
// loader releases the component's private code separately.
func (b *Boundary) Release() {
	b.released = true
}

// Released reports whether the boundary has been destroyed.
func (b *Boundary) Released() bool {
	return b.released
}
