// Package requestid provides the built-in component that stamps a
// correlation id onto every message entering the chain.
package requestid

import (
	"context"

	"github.com/google/uuid"

	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

// ModuleName is the entry-point module under which the component registers.
const ModuleName = "armature/components/requestid"

// Priority places the stamp before every other built-in behavior.
const Priority = 0

// Component assigns a UUID request id when the inbound message has none.
type Component struct{}

// New creates the component.
func New() *Component {
	return &Component{}
}

func (c *Component) ID() string             { return "requestid" }
func (c *Component) Name() string           { return "Request ID" }
func (c *Component) Version() string        { return "1.0.0" }
func (c *Component) Dependencies() []string { return nil }

// OnAttach implements component.Component.
func (c *Component) OnAttach(context.Context, *component.AttachContext) error {
	return nil
}

// OnDetach implements component.Component.
func (c *Component) OnDetach(context.Context) error {
	return nil
}

// ContributeBehaviors implements component.Component.
func (c *Component) ContributeBehaviors() []domain.BehaviorContribution {
	return []domain.BehaviorContribution{{
		ID:       "requestid.stamp",
		Name:     "request id stamp",
		Priority: Priority,
		Enabled:  true,
		Behavior: domain.BehaviorFunc(func(ctx context.Context, ec *domain.ExecutionContext, next domain.Next) (any, error) {
			if _, ok := ec.Value(domain.ValueRequestID); !ok {
				ec.SetValue(domain.ValueRequestID, uuid.NewString())
			}
			return next(ctx)
		}),
	}}
}
