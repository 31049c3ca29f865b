// Package lifecycle sequences components through their state machine:
// resolve dependency order, construct load boundaries, attach, run, detach,
// and hot-reload. The manager is the only writer of descriptor state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/armatureio/armature/internal/graph"
	"github.com/armatureio/armature/pkg/chain"
	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
	"github.com/armatureio/armature/pkg/isolation"
	"github.com/armatureio/armature/pkg/registry"
	"github.com/armatureio/armature/pkg/telemetry"
)

const tracerName = "armature.lifecycle"

// Spec declares one component to manage: which module carries its entry
// point, under which isolation policy, with which settings.
type Spec struct {
	ID        string
	Module    string
	Isolation domain.IsolationRequirements
	Settings  map[string]any
}

// managed is the manager's private record for one component. The descriptor
// here is the authoritative one; the registry and accessors hand out clones.
type managed struct {
	spec       Spec
	descriptor *domain.ComponentDescriptor
	instance   component.Component
	boundary   *isolation.Boundary
}

// Report aggregates the outcome of a StartAll pass. A failed component never
// stops independent siblings, so both lists can be non-empty at once.
type Report struct {
	Started []string
	Failed  []*domain.ComponentError
}

// OK reports whether every attempted component reached Running.
func (r *Report) OK() bool {
	return len(r.Failed) == 0
}

// Config holds dependencies for creating a Manager.
type Config struct {
	Logger   *slog.Logger
	Policy   *isolation.Policy
	Loader   isolation.Loader
	Registry *registry.Registry
	Engine   *chain.Engine
}

// Manager owns component lifecycles. All state mutation is serialised through
// one mutex; the registry and the chain engine carry their own synchronisation
// for the read paths that requests hit.
type Manager struct {
	logger   *slog.Logger
	policy   *isolation.Policy
	loader   isolation.Loader
	registry *registry.Registry
	engine   *chain.Engine

	mu         sync.Mutex
	components map[string]*managed
	order      []string // last successfully resolved start order
	errs       []*domain.ComponentError
	reloading  map[string]bool
}

// NewManager creates a manager with no components.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:     logger,
		policy:     cfg.Policy,
		loader:     cfg.Loader,
		registry:   cfg.Registry,
		engine:     cfg.Engine,
		components: make(map[string]*managed),
		reloading:  make(map[string]bool),
	}
}

// Add places a component under management in state Registered. The id must
// be free; a duplicate returns DuplicateRegistrationError without touching
// the existing record.
func (m *Manager) Add(spec Spec) error {
	if spec.ID == "" {
		return fmt.Errorf("component spec is missing an id")
	}
	if spec.Module == "" {
		return fmt.Errorf("component %q spec is missing a module", spec.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[spec.ID]; exists {
		return &domain.DuplicateRegistrationError{ID: spec.ID}
	}
	m.components[spec.ID] = &managed{
		spec: spec,
		descriptor: &domain.ComponentDescriptor{
			ID:        spec.ID,
			State:     domain.StateRegistered,
			Isolation: spec.Isolation,
		},
	}
	return nil
}

// StartAll drives every managed component toward Running: load entry points
// through their boundaries, resolve the dependency order, then attach and
// start in that order. A resolution failure (unknown dependency or cycle) is
// fatal to the whole pass and nothing starts. Per-component failures are
// collected in the report; components that are already Running are left
// untouched, and a failed dependency marks its dependents Failed without
// attempting them.
func (m *Manager) StartAll(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.start_all")
	defer span.End()

	report := &Report{}

	// Load phase: materialise an instance for every component that has none.
	for _, id := range m.ids() {
		mc := m.components[id]
		if mc.instance != nil {
			continue
		}
		if cerr := m.load(ctx, mc); cerr != nil {
			report.Failed = append(report.Failed, m.fail(ctx, mc, cerr))
		}
	}

	// Resolve phase: the order covers the whole managed set, so an invalid
	// graph fails the pass before anything attaches.
	descriptors := make([]*domain.ComponentDescriptor, 0, len(m.components))
	for _, mc := range m.components {
		descriptors = append(descriptors, mc.descriptor)
	}
	g, err := graph.New(descriptors)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	order, err := g.StartOrder()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m.order = order

	for _, id := range order {
		mc := m.components[id]
		if mc.instance != nil && mc.descriptor.State != domain.StateRunning {
			m.setState(ctx, mc, domain.StateResolved)
		}
	}

	// Start phase, strictly in resolved order.
	for _, id := range order {
		mc := m.components[id]
		switch {
		case mc.descriptor.State == domain.StateRunning:
			continue
		case mc.instance == nil:
			// Load already failed this pass.
			continue
		}

		if failedDep := m.failedDependency(mc); failedDep != "" {
			cerr := &domain.ComponentError{
				ComponentID: id,
				Code:        domain.CodeDependencyFailed,
				Message:     fmt.Sprintf("dependency %q is not running", failedDep),
				Severity:    domain.SeverityWarning,
			}
			report.Failed = append(report.Failed, m.fail(ctx, mc, cerr))
			continue
		}

		if cerr := m.startOne(ctx, mc); cerr != nil {
			report.Failed = append(report.Failed, cerr)
			continue
		}
		report.Started = append(report.Started, id)
	}

	span.SetAttributes(
		attribute.Int("components.started", len(report.Started)),
		attribute.Int("components.failed", len(report.Failed)),
	)
	m.logger.Info("start pass complete",
		"started", len(report.Started),
		"failed", len(report.Failed),
	)
	return report, nil
}

// StopAll detaches every Running component in reverse start order. Stop
// failures leave the component Failed but never prevent the remaining
// components from stopping. Boundaries are released either way.
func (m *Manager) StopAll(ctx context.Context) []*domain.ComponentError {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.stop_all")
	defer span.End()

	var failed []*domain.ComponentError
	for _, id := range graph.StopOrder(m.order) {
		mc, ok := m.components[id]
		if !ok || mc.descriptor.State != domain.StateRunning {
			continue
		}
		if cerr := m.stopOne(ctx, mc); cerr != nil {
			failed = append(failed, cerr)
		}
	}

	span.SetAttributes(attribute.Int("components.failed", len(failed)))
	return failed
}

// HotReload replaces one Running component with a freshly loaded instance.
// The component's contributions leave the chain atomically for the duration
// and return only after the new instance reaches Running. Any failure leaves
// the component Failed with its contributions removed. A second reload of
// the same component is rejected while one is in flight.
func (m *Manager) HotReload(ctx context.Context, id string) error {
	m.mu.Lock()
	mc, ok := m.components[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrComponentNotFound
	}
	if m.reloading[id] {
		m.mu.Unlock()
		return domain.ErrReloadInProgress
	}
	if mc.descriptor.State != domain.StateRunning {
		m.mu.Unlock()
		return domain.ErrNotRunning
	}
	m.reloading[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.reloading, id)
		m.mu.Unlock()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.hot_reload")
	span.SetAttributes(attribute.String("component.id", id))
	defer span.End()

	m.logger.Info("hot reload starting", "component_id", id)

	if cerr := m.stopOne(ctx, mc); cerr != nil {
		span.SetStatus(codes.Error, cerr.Error())
		return cerr
	}
	m.loader.Unload(id)
	mc.instance = nil
	m.setState(ctx, mc, domain.StateUnloaded)

	if cerr := m.load(ctx, mc); cerr != nil {
		span.SetStatus(codes.Error, cerr.Error())
		return m.fail(ctx, mc, cerr)
	}
	m.setState(ctx, mc, domain.StateResolved)

	if failedDep := m.failedDependency(mc); failedDep != "" {
		cerr := &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeReloadFailed,
			Message:     fmt.Sprintf("dependency %q is not running", failedDep),
			Severity:    domain.SeverityError,
		}
		span.SetStatus(codes.Error, cerr.Error())
		return m.fail(ctx, mc, cerr)
	}

	if cerr := m.startOne(ctx, mc); cerr != nil {
		span.SetStatus(codes.Error, cerr.Error())
		return cerr
	}

	m.logger.Info("hot reload complete", "component_id", id, "version", mc.descriptor.Version)
	return nil
}

// Stop detaches one Running component. Dependents are not stopped; the
// caller owns ordering when stopping subsets.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.components[id]
	if !ok {
		return domain.ErrComponentNotFound
	}
	if mc.descriptor.State != domain.StateRunning {
		return domain.ErrNotRunning
	}
	if cerr := m.stopOne(ctx, mc); cerr != nil {
		return cerr
	}
	return nil
}

// UpdateSettings replaces the component's manifest settings. The new
// settings take effect on the next attach (restart or hot reload).
func (m *Manager) UpdateSettings(id string, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.components[id]
	if !ok {
		return domain.ErrComponentNotFound
	}
	mc.spec.Settings = settings
	return nil
}

// Unload releases a Stopped component's code. Unloaded is reachable only
// from Stopped.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.components[id]
	if !ok {
		return domain.ErrComponentNotFound
	}
	if mc.descriptor.State != domain.StateStopped {
		return fmt.Errorf("component %q cannot unload from state %q", id, mc.descriptor.State)
	}

	m.loader.Unload(id)
	mc.instance = nil
	m.setState(ctx, mc, domain.StateUnloaded)
	return nil
}

// GetState returns the component's current lifecycle state.
func (m *Manager) GetState(id string) (domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.components[id]
	if !ok {
		return "", domain.ErrComponentNotFound
	}
	return mc.descriptor.State, nil
}

// Errors returns every component error recorded since the manager was
// created, in occurrence order.
func (m *Manager) Errors() []*domain.ComponentError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ComponentError(nil), m.errs...)
}

// Descriptors returns a point-in-time snapshot of every managed descriptor,
// ordered by id.
func (m *Manager) Descriptors() []*domain.ComponentDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.ComponentDescriptor, 0, len(m.components))
	for _, id := range m.ids() {
		out = append(out, m.components[id].descriptor.Clone())
	}
	return out
}

// load constructs the component's boundary, resolves its entry-point module
// through it, and builds a fresh instance. Callers hold m.mu.
func (m *Manager) load(ctx context.Context, mc *managed) *domain.ComponentError {
	id := mc.spec.ID
	b := m.policy.BoundaryFor(id, mc.spec.Isolation, m.loader.PrivateModules(id))

	ctor, err := m.loader.Load(ctx, b, mc.spec.Module)
	if err != nil {
		b.Release()
		code, severity := domain.CodeLoadFailed, domain.SeverityError
		var restricted *domain.RestrictedModuleError
		if errors.As(err, &restricted) {
			code, severity = domain.CodeBoundaryRejected, domain.SeverityCritical
		}
		return &domain.ComponentError{
			ComponentID: id,
			Code:        code,
			Message:     fmt.Sprintf("loading module %q", mc.spec.Module),
			Severity:    severity,
			Cause:       err,
		}
	}

	instance := ctor()
	if instance == nil || instance.ID() != id {
		b.Release()
		m.loader.Unload(id)
		reported := "<nil>"
		if instance != nil {
			reported = instance.ID()
		}
		return &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeLoadFailed,
			Message:     fmt.Sprintf("module %q entry point reported id %q", mc.spec.Module, reported),
			Severity:    domain.SeverityError,
		}
	}

	if _, err := semver.NewVersion(instance.Version()); err != nil {
		b.Release()
		m.loader.Unload(id)
		return &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeInvalidVersion,
			Message:     fmt.Sprintf("version %q is not valid semver", instance.Version()),
			Severity:    domain.SeverityError,
			Cause:       err,
		}
	}

	mc.instance = instance
	mc.boundary = b
	mc.descriptor.Name = instance.Name()
	mc.descriptor.Version = instance.Version()
	mc.descriptor.Dependencies = append([]string(nil), instance.Dependencies()...)
	return nil
}

// startOne drives one resolved component to Running. Callers hold m.mu and
// have verified its dependencies are Running.
func (m *Manager) startOne(ctx context.Context, mc *managed) *domain.ComponentError {
	id := mc.descriptor.ID

	m.setState(ctx, mc, domain.StateInitializing)
	ac := &component.AttachContext{
		Logger:     m.logger.With("component_id", id),
		Settings:   mc.spec.Settings,
		Components: m.registry,
	}
	if err := mc.instance.OnAttach(ctx, ac); err != nil {
		return m.fail(ctx, mc, &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeInitFailed,
			Message:     "attach failed",
			Severity:    domain.SeverityError,
			Cause:       err,
		})
	}
	m.setState(ctx, mc, domain.StateInitialized)

	m.setState(ctx, mc, domain.StateStarting)
	if err := m.registry.Register(id, mc.instance, mc.descriptor); err != nil {
		return m.fail(ctx, mc, &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeStartFailed,
			Message:     "registry insert failed",
			Severity:    domain.SeverityError,
			Cause:       err,
		})
	}
	m.setState(ctx, mc, domain.StateRunning)

	m.engine.SetContributions(id, mc.instance.ContributeBehaviors())
	m.logger.Info("component running",
		"component_id", id,
		"name", mc.descriptor.Name,
		"version", mc.descriptor.Version,
	)
	return nil
}

// stopOne detaches one Running component: its contributions leave the chain
// and the registry entry is removed before OnDetach runs, so no new request
// reaches a stopping component. Callers hold m.mu.
func (m *Manager) stopOne(ctx context.Context, mc *managed) *domain.ComponentError {
	id := mc.descriptor.ID

	m.setState(ctx, mc, domain.StateStopping)
	m.engine.RemoveComponent(id)
	m.registry.Unregister(id)

	detachErr := mc.instance.OnDetach(ctx)

	if mc.boundary != nil {
		mc.boundary.Release()
		mc.boundary = nil
	}

	if detachErr != nil {
		return m.fail(ctx, mc, &domain.ComponentError{
			ComponentID: id,
			Code:        domain.CodeStopFailed,
			Message:     "detach failed",
			Severity:    domain.SeverityError,
			Cause:       detachErr,
		})
	}

	m.setState(ctx, mc, domain.StateStopped)
	m.logger.Info("component stopped", "component_id", id)
	return nil
}

// failedDependency returns the first dependency (lexicographic) that is not
// Running, or "" when all are. Callers hold m.mu.
func (m *Manager) failedDependency(mc *managed) string {
	for _, dep := range mc.descriptor.SortedDependencies() {
		depMC, ok := m.components[dep]
		if !ok || depMC.descriptor.State != domain.StateRunning {
			return dep
		}
	}
	return ""
}

// fail moves the component to Failed and records the error. Callers hold m.mu.
func (m *Manager) fail(ctx context.Context, mc *managed, cerr *domain.ComponentError) *domain.ComponentError {
	m.setState(ctx, mc, domain.StateFailed)
	m.errs = append(m.errs, cerr)
	m.logger.Error("component failed",
		"component_id", cerr.ComponentID,
		"code", cerr.Code,
		"severity", cerr.Severity.String(),
		"error", cerr,
	)
	return cerr
}

// setState applies a lifecycle transition, recording it in metrics and the
// debug log. Callers hold m.mu.
func (m *Manager) setState(ctx context.Context, mc *managed, to domain.State) {
	from := mc.descriptor.State
	if from == to {
		return
	}
	if !ValidTransition(from, to) {
		m.logger.Error("invalid state transition refused",
			"component_id", mc.descriptor.ID,
			"from", string(from),
			"to", string(to),
		)
		return
	}
	mc.descriptor.State = to
	telemetry.RecordStateTransition(ctx, mc.descriptor.ID, string(from), string(to))
	m.logger.Debug("component state changed",
		"component_id", mc.descriptor.ID,
		"from", string(from),
		"to", string(to),
	)
}

// ids returns the managed component ids in lexicographic order. Callers hold m.mu.
func (m *Manager) ids() []string {
	out := make([]string, 0, len(m.components))
	for id := range m.components {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
