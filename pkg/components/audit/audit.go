// Package audit provides the built-in component that logs a structured
// summary of every chain run. It runs late so the summary reflects what the
// rest of the chain actually did.
package audit

import (
	"context"
	"time"

	"log/slog"

	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

// ModuleName is the entry-point module under which the component registers.
const ModuleName = "armature/components/audit"

// Priority places the summary behind every admission behavior but around
// the request's real work, so durations cover the downstream chain.
const Priority = 1000

// Component logs one summary line per chain run.
type Component struct {
	logger *slog.Logger
}

// New creates the component.
func New() *Component {
	return &Component{}
}

func (c *Component) ID() string      { return "audit" }
func (c *Component) Name() string    { return "Audit Log" }
func (c *Component) Version() string { return "1.0.0" }

// Dependencies requires the request id component so every summary carries a
// correlation id.
func (c *Component) Dependencies() []string { return []string{"requestid"} }

// OnAttach implements component.Component.
func (c *Component) OnAttach(_ context.Context, ac *component.AttachContext) error {
	c.logger = ac.Logger
	return nil
}

// OnDetach implements component.Component.
func (c *Component) OnDetach(context.Context) error {
	return nil
}

// ContributeBehaviors implements component.Component.
func (c *Component) ContributeBehaviors() []domain.BehaviorContribution {
	return []domain.BehaviorContribution{{
		ID:       "audit.summary",
		Name:     "audit summary",
		Priority: Priority,
		Enabled:  true,
		Behavior: domain.BehaviorFunc(c.summarise),
	}}
}

func (c *Component) summarise(ctx context.Context, ec *domain.ExecutionContext, next domain.Next) (any, error) {
	start := time.Now()
	result, err := next(ctx)
	duration := time.Since(start)

	requestID, _ := ec.Value(domain.ValueRequestID)
	if err != nil {
		c.logger.Warn("chain run failed",
			"request_id", requestID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return result, err
	}

	c.logger.Info("chain run complete",
		"request_id", requestID,
		"duration_ms", duration.Milliseconds(),
	)
	return result, err
}
