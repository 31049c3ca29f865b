package domain

import "context"

// Next is the continuation representing the rest of the chain. A behavior
// that never calls it short-circuits everything behind it.
type Next func(ctx context.Context) (any, error)

// Behavior is one step of chain-of-responsibility request processing,
// contributed by a running component.
type Behavior interface {
	Execute(ctx context.Context, ec *ExecutionContext, next Next) (any, error)
}

// BehaviorFunc adapts a plain function to the Behavior interface.
type BehaviorFunc func(ctx context.Context, ec *ExecutionContext, next Next) (any, error)

// Execute implements Behavior.
func (f BehaviorFunc) Execute(ctx context.Context, ec *ExecutionContext, next Next) (any, error) {
	return f(ctx, ec, next)
}

// Constraint gates a contribution per request. Evaluated against the
// execution context immediately before the behavior would run; false routes
// control straight to the continuation.
type Constraint func(ec *ExecutionContext) bool

// BehaviorContribution is a component's offer of one behavior to the shared
// pipeline. Owned by the contributing component; removed when it stops.
type BehaviorContribution struct {
	ID       string
	Name     string
	Behavior Behavior
	// Priority orders the chain; lower runs earlier. Ties break by ID.
	Priority   int
	Constraint Constraint
	Tags       []string
	Enabled    bool
}

// Allowed reports whether the contribution's constraint admits this request.
// A nil constraint admits everything.
func (c *BehaviorContribution) Allowed(ec *ExecutionContext) bool {
	if c.Constraint == nil {
		return true
	}
	return c.Constraint(ec)
}
