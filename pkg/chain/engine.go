package chain

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/armatureio/armature/pkg/domain"
	"github.com/armatureio/armature/pkg/telemetry"
)

// Engine owns the active chain. Rebuilds swap whole snapshots through an
// atomic pointer, so concurrent rebuilds never mutate a chain that an
// in-flight request is executing against.
type Engine struct {
	logger         *slog.Logger
	terminal       Terminal
	defaultTimeout time.Duration

	mu            sync.Mutex // serialises contribution mutations and rebuilds
	contributions map[string][]domain.BehaviorContribution

	active atomic.Pointer[Chain]
}

// EngineConfig holds dependencies for creating an Engine.
type EngineConfig struct {
	Logger *slog.Logger
	// DefaultTimeout bounds Execute when positive. Zero disables the bound.
	DefaultTimeout time.Duration
	// Terminal overrides the default terminal continuation.
	Terminal Terminal
}

// NewEngine creates an engine with an empty active chain.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		logger:         logger,
		terminal:       cfg.Terminal,
		defaultTimeout: cfg.DefaultTimeout,
		contributions:  make(map[string][]domain.BehaviorContribution),
	}
	e.active.Store(e.build())
	return e
}

// SetContributions atomically replaces a component's contributions and
// swaps in a rebuilt chain. Used when a component reaches Running and when
// a hot reload completes.
func (e *Engine) SetContributions(componentID string, contributions []domain.BehaviorContribution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.contributions[componentID] = append([]domain.BehaviorContribution(nil), contributions...)
	e.swap()
}

// RemoveComponent atomically splices a component's contributions out of the
// active chain. Used on stop and for the duration of a hot reload.
func (e *Engine) RemoveComponent(componentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contributions[componentID]; !ok {
		return
	}
	delete(e.contributions, componentID)
	e.swap()
}

// SetEnabled flips one contribution's enabled flag and rebuilds. Returns
// false if the component or behavior is unknown.
func (e *Engine) SetEnabled(componentID, behaviorID string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	contribs, ok := e.contributions[componentID]
	if !ok {
		return false
	}
	for i := range contribs {
		if contribs[i].ID == behaviorID {
			if contribs[i].Enabled != enabled {
				contribs[i].Enabled = enabled
				e.swap()
			}
			return true
		}
	}
	return false
}

// Components lists the component ids currently contributing to the chain.
func (e *Engine) Components() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.contributions))
	for id := range e.contributions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the current immutable chain.
func (e *Engine) Snapshot() *Chain {
	return e.active.Load()
}

// Execute runs the current snapshot against one request context, bounded by
// the engine's default timeout when configured.
func (e *Engine) Execute(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	return e.ExecuteWithTimeout(ctx, ec, e.defaultTimeout)
}

// ExecuteWithTimeout runs the current snapshot with an explicit deadline.
// d <= 0 runs unbounded.
func (e *Engine) ExecuteWithTimeout(ctx context.Context, ec *domain.ExecutionContext, d time.Duration) (any, error) {
	snapshot := e.Snapshot()

	tracer := otel.Tracer("armature.chain")
	ctx, span := tracer.Start(ctx, "chain.execute", trace.WithAttributes(
		attribute.Int("chain.length", snapshot.Len()),
	))
	defer span.End()

	start := time.Now()
	result, err := snapshot.RunWithTimeout(ctx, ec, d)
	outcome := classify(err)

	telemetry.RecordChainMetrics(ctx, telemetry.ChainMetrics{
		Length:   snapshot.Len(),
		Outcome:  outcome,
		Duration: time.Since(start),
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("chain execution failed",
			"outcome", outcome,
			"chain_length", snapshot.Len(),
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("chain.outcome", outcome))
	return result, nil
}

// swap rebuilds the snapshot from the current contribution map and publishes
// it. Callers hold e.mu.
func (e *Engine) swap() {
	next := e.build()
	e.active.Store(next)

	telemetry.RecordChainRebuild(context.Background(), next.Len())
	e.logger.Debug("active chain rebuilt",
		"chain_length", next.Len(),
		"order", next.Order(),
	)
}

// build assembles a chain from the contribution map. Callers hold e.mu
// (or, during construction, have exclusive access).
func (e *Engine) build() *Chain {
	var all []Contribution
	for componentID, contribs := range e.contributions {
		for _, contrib := range contribs {
			all = append(all, Contribution{ComponentID: componentID, BehaviorContribution: contrib})
		}
	}

	opts := []Option{WithObserver(e.observeBehavior)}
	if e.terminal != nil {
		opts = append(opts, WithTerminal(e.terminal))
	}
	return Build(all, opts...)
}

func (e *Engine) observeBehavior(ctx context.Context, c Contribution, outcome string, d time.Duration, err error) {
	telemetry.RecordBehaviorMetrics(ctx, telemetry.BehaviorMetrics{
		ComponentID: c.ComponentID,
		BehaviorID:  c.ID,
		Priority:    c.Priority,
		Outcome:     outcome,
		Duration:    d,
	})
	if err != nil && outcome == "fault" {
		e.logger.Debug("behavior fault",
			"component_id", c.ComponentID,
			"behavior_id", c.ID,
			"error", err,
		)
	}
}
