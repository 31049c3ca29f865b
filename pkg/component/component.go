// Package component defines the contract between the Armature host and the
// pluggable units it runs. Components declare identity and dependencies,
// receive OnAttach/OnDetach lifecycle calls, and contribute behaviors to the
// shared request pipeline.
package component

import (
	"context"
	"log/slog"

	"github.com/armatureio/armature/pkg/domain"
)

// Component is an independently startable and stoppable unit contributing
// behaviors to the pipeline. Implementations must be safe to attach, detach,
// and re-attach (hot reload constructs a fresh instance, but the contract
// does not forbid reuse).
type Component interface {
	// ID is the unique component identifier used for registration and
	// dependency declaration.
	ID() string
	Name() string
	// Version is a semantic version string; the lifecycle manager validates it.
	Version() string
	// Dependencies lists the ids of components that must be Running before
	// this one starts.
	Dependencies() []string

	// OnAttach is called during Initializing. Returning an error moves the
	// component to Failed.
	OnAttach(ctx context.Context, ac *AttachContext) error
	// ContributeBehaviors returns the behaviors this component offers to the
	// chain. Called once the component reaches Running and again after a
	// successful hot reload.
	ContributeBehaviors() []domain.BehaviorContribution
	// OnDetach is called during Stopping.
	OnDetach(ctx context.Context) error
}

// Lookup resolves running components by id. The host passes an explicit
// instance; there is no ambient global registry.
type Lookup interface {
	Component(id string) (Component, bool)
}

// AttachContext carries everything a component may use during OnAttach.
type AttachContext struct {
	Logger *slog.Logger
	// Settings is the component's free-form configuration block from the
	// manifest. May be nil.
	Settings map[string]any
	// Components resolves already-running components; dependencies are
	// guaranteed to be Running when OnAttach is called.
	Components Lookup
}

// Descriptor builds the identity record for a component instance. State
// starts at Registered; the lifecycle manager owns it from here.
func Descriptor(c Component, isolation domain.IsolationRequirements) *domain.ComponentDescriptor {
	return &domain.ComponentDescriptor{
		ID:           c.ID(),
		Name:         c.Name(),
		Version:      c.Version(),
		Dependencies: append([]string(nil), c.Dependencies()...),
		State:        domain.StateRegistered,
		Isolation:    isolation,
	}
}
