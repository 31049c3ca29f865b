// Package throttle provides the built-in token-bucket admission component.
// Messages over the configured rate are rejected before any downstream
// behavior runs.
package throttle

import (
	"context"
	"errors"
	"fmt"

	"github.com/armatureio/armature/internal/governance"
	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

// ModuleName is the entry-point module under which the component registers.
const ModuleName = "armature/components/throttle"

// Priority places admission just after request id stamping.
const Priority = 5

// ErrThrottled rejects a message that exceeded the admission rate.
var ErrThrottled = errors.New("message rejected by throttle")

const admissionKey = "chain"

// Component enforces token-bucket admission on every message.
type Component struct {
	limiter *governance.Limiter
}

// New creates the component. Rate and burst come from the manifest settings
// at attach time.
func New() *Component {
	return &Component{}
}

func (c *Component) ID() string             { return "throttle" }
func (c *Component) Name() string           { return "Throttle" }
func (c *Component) Version() string        { return "1.0.0" }
func (c *Component) Dependencies() []string { return nil }

// OnAttach implements component.Component. Settings: per_second (required,
// positive), burst (optional, defaults to per_second).
func (c *Component) OnAttach(_ context.Context, ac *component.AttachContext) error {
	perSecond, err := intSetting(ac.Settings, "per_second")
	if err != nil {
		return err
	}
	if perSecond <= 0 {
		return fmt.Errorf("per_second must be positive, got %d", perSecond)
	}

	burst := perSecond
	if _, ok := ac.Settings["burst"]; ok {
		if burst, err = intSetting(ac.Settings, "burst"); err != nil {
			return err
		}
	}

	c.limiter = governance.NewLimiter(map[string]governance.LimiterConfig{
		admissionKey: {PerSecond: perSecond, Burst: burst},
	})
	return nil
}

// OnDetach implements component.Component.
func (c *Component) OnDetach(context.Context) error {
	return nil
}

// ContributeBehaviors implements component.Component.
func (c *Component) ContributeBehaviors() []domain.BehaviorContribution {
	return []domain.BehaviorContribution{{
		ID:       "throttle.admit",
		Name:     "throttle admission",
		Priority: Priority,
		Enabled:  true,
		Behavior: domain.BehaviorFunc(func(ctx context.Context, _ *domain.ExecutionContext, next domain.Next) (any, error) {
			if !c.limiter.AllowContext(ctx, admissionKey) {
				return nil, ErrThrottled
			}
			return next(ctx)
		}),
	}}
}

// Stats exposes the current bucket state for the host's state endpoint.
func (c *Component) Stats() map[string]governance.LimiterStats {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Stats()
}

func intSetting(settings map[string]any, key string) (int, error) {
	v, ok := settings[key]
	if !ok {
		return 0, fmt.Errorf("setting %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("setting %q must be a number, got %T", key, v)
	}
}
