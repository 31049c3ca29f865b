package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatureio/armature/pkg/chain"
	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
	"github.com/armatureio/armature/pkg/isolation"
	"github.com/armatureio/armature/pkg/registry"
)

type fakeComponent struct {
	id        string
	version   string
	deps      []string
	attachErr error
	detachErr error
	trace     *[]string
}

func (f *fakeComponent) ID() string             { return f.id }
func (f *fakeComponent) Name() string           { return "fake " + f.id }
func (f *fakeComponent) Version() string        { return f.version }
func (f *fakeComponent) Dependencies() []string { return f.deps }

func (f *fakeComponent) OnAttach(_ context.Context, _ *component.AttachContext) error {
	if f.trace != nil {
		*f.trace = append(*f.trace, "attach:"+f.id)
	}
	return f.attachErr
}

func (f *fakeComponent) OnDetach(context.Context) error {
	if f.trace != nil {
		*f.trace = append(*f.trace, "detach:"+f.id)
	}
	return f.detachErr
}

func (f *fakeComponent) ContributeBehaviors() []domain.BehaviorContribution {
	return []domain.BehaviorContribution{{
		ID: f.id + "-behavior", Name: f.id, Priority: 10, Enabled: true,
		Behavior: domain.BehaviorFunc(func(ctx context.Context, _ *domain.ExecutionContext, next domain.Next) (any, error) {
			return next(ctx)
		}),
	}}
}

type harness struct {
	manager *Manager
	loader  *isolation.FactoryLoader
	reg     *registry.Registry
	engine  *chain.Engine
	trace   []string
}

func newHarness(sharedCore ...string) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		loader: isolation.NewFactoryLoader(),
		reg:    registry.New(),
		engine: chain.NewEngine(chain.EngineConfig{Logger: logger}),
	}
	h.manager = NewManager(Config{
		Logger:   logger,
		Policy:   isolation.NewPolicy(sharedCore),
		Loader:   h.loader,
		Registry: h.reg,
		Engine:   h.engine,
	})
	return h
}

// add registers a component whose entry point lives in module "mod/<id>".
func (h *harness) add(t *testing.T, c *fakeComponent, spec Spec) {
	t.Helper()
	if c.version == "" {
		c.version = "1.0.0"
	}
	c.trace = &h.trace
	if spec.ID == "" {
		spec.ID = c.id
	}
	if spec.Module == "" {
		spec.Module = "mod/" + c.id
	}
	h.loader.RegisterShared(spec.Module, func() component.Component { return c })
	require.NoError(t, h.manager.Add(spec))
}

func (h *harness) state(t *testing.T, id string) domain.State {
	t.Helper()
	s, err := h.manager.GetState(id)
	require.NoError(t, err)
	return s
}

func TestStartAllRunsInDependencyOrderAndStopsInReverse(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a"}, Spec{})
	h.add(t, &fakeComponent{id: "b", deps: []string{"a"}}, Spec{})
	h.add(t, &fakeComponent{id: "c", deps: []string{"b"}}, Spec{})

	report, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	assert.Equal(t, []string{"a", "b", "c"}, report.Started)
	assert.Equal(t, []string{"attach:a", "attach:b", "attach:c"}, h.trace)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, domain.StateRunning, h.state(t, id))
		assert.True(t, h.reg.IsRegistered(id))
	}
	assert.Equal(t, []string{"a-behavior", "b-behavior", "c-behavior"}, h.engine.Snapshot().Order())

	h.trace = nil
	failed := h.manager.StopAll(context.Background())
	assert.Empty(t, failed)
	assert.Equal(t, []string{"detach:c", "detach:b", "detach:a"}, h.trace)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, domain.StateStopped, h.state(t, id))
		assert.False(t, h.reg.IsRegistered(id))
	}
	assert.Equal(t, 0, h.engine.Snapshot().Len())
}

func TestStartAllCycleFailsTheWholeGraph(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "d", deps: []string{"e"}}, Spec{})
	h.add(t, &fakeComponent{id: "e", deps: []string{"d"}}, Spec{})
	h.add(t, &fakeComponent{id: "healthy"}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	var cycle *domain.CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Members, "d")
	assert.Contains(t, cycle.Members, "e")

	// Nothing starts, not even components outside the cycle.
	assert.Empty(t, h.trace)
	assert.Equal(t, 0, h.reg.Len())
	assert.Equal(t, domain.StateRegistered, h.state(t, "healthy"))
}

func TestStartAllUnknownDependency(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a", deps: []string{"ghost"}}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	var unknown *domain.UnknownDependencyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "a", unknown.ComponentID)
	assert.Equal(t, "ghost", unknown.DependencyID)
}

func TestDependencyFailurePropagatesForward(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a", attachErr: errors.New("a broke")}, Spec{})
	h.add(t, &fakeComponent{id: "b", deps: []string{"a"}}, Spec{})
	h.add(t, &fakeComponent{id: "c"}, Spec{})

	report, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, report.Started, "independent siblings still start")
	require.Len(t, report.Failed, 2)

	byID := map[string]*domain.ComponentError{}
	for _, cerr := range report.Failed {
		byID[cerr.ComponentID] = cerr
	}
	require.Contains(t, byID, "a")
	assert.Equal(t, domain.CodeInitFailed, byID["a"].Code)
	assert.Equal(t, domain.SeverityError, byID["a"].Severity)

	require.Contains(t, byID, "b")
	assert.Equal(t, domain.CodeDependencyFailed, byID["b"].Code)
	assert.Equal(t, domain.SeverityWarning, byID["b"].Severity)

	assert.Equal(t, domain.StateFailed, h.state(t, "a"))
	assert.Equal(t, domain.StateFailed, h.state(t, "b"))
	assert.Equal(t, domain.StateRunning, h.state(t, "c"))
	assert.NotContains(t, h.trace, "attach:b", "a failed dependency's dependents are never attempted")

	assert.Len(t, h.manager.Errors(), 2)
}

func TestBoundaryRejectionIsFatalToStartup(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "locked"}, Spec{
		Isolation: domain.IsolationRequirements{
			Level:          domain.IsolationStrict,
			AllowedModules: []string{"something-else"},
		},
	})

	report, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, domain.CodeBoundaryRejected, report.Failed[0].Code)
	assert.Equal(t, domain.SeverityCritical, report.Failed[0].Severity)

	var restricted *domain.RestrictedModuleError
	require.ErrorAs(t, report.Failed[0], &restricted)
	assert.Equal(t, domain.StateFailed, h.state(t, "locked"))
	assert.Empty(t, h.trace)
}

func TestInvalidVersionFailsLoad(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "bad", version: "not-a-version"}, Spec{})

	report, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, domain.CodeInvalidVersion, report.Failed[0].Code)
	assert.Equal(t, domain.StateFailed, h.state(t, "bad"))
}

func TestStartAllLeavesRunningComponentsUntouched(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a"}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)

	report, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Started)
	assert.Equal(t, []string{"attach:a"}, h.trace, "attach runs once across both passes")
}

func TestAddDuplicateID(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.manager.Add(Spec{ID: "a", Module: "mod/a"}))

	err := h.manager.Add(Spec{ID: "a", Module: "mod/other"})
	var dup *domain.DuplicateRegistrationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.ID)
}

func TestGetStateUnknownComponent(t *testing.T) {
	h := newHarness()
	_, err := h.manager.GetState("ghost")
	assert.ErrorIs(t, err, domain.ErrComponentNotFound)
}

func TestHotReloadConstructsFreshInstance(t *testing.T) {
	h := newHarness()

	built := 0
	var instances []*fakeComponent
	h.loader.RegisterShared("mod/reloadable", func() component.Component {
		built++
		c := &fakeComponent{id: "reloadable", version: "1.0.0", trace: &h.trace}
		instances = append(instances, c)
		return c
	})
	require.NoError(t, h.manager.Add(Spec{ID: "reloadable", Module: "mod/reloadable"}))

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, built)

	require.NoError(t, h.manager.HotReload(context.Background(), "reloadable"))

	assert.Equal(t, 2, built, "reload never reuses the previous incarnation")
	assert.Equal(t, []string{"attach:reloadable", "detach:reloadable", "attach:reloadable"}, h.trace)
	assert.Equal(t, domain.StateRunning, h.state(t, "reloadable"))
	assert.Equal(t, []string{"reloadable-behavior"}, h.engine.Snapshot().Order())

	got, ok := h.reg.Get("reloadable")
	require.True(t, ok)
	assert.Same(t, instances[1], got, "the registry holds the new incarnation")
}

func TestHotReloadRequiresRunning(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a"}, Spec{})

	assert.ErrorIs(t, h.manager.HotReload(context.Background(), "ghost"), domain.ErrComponentNotFound)
	assert.ErrorIs(t, h.manager.HotReload(context.Background(), "a"), domain.ErrNotRunning)

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	h.manager.StopAll(context.Background())
	assert.ErrorIs(t, h.manager.HotReload(context.Background(), "a"), domain.ErrNotRunning)
}

func TestHotReloadFailureLeavesFailedWithContributionsRemoved(t *testing.T) {
	h := newHarness()

	built := 0
	h.loader.RegisterShared("mod/flaky", func() component.Component {
		built++
		c := &fakeComponent{id: "flaky", version: "1.0.0", trace: &h.trace}
		if built > 1 {
			c.attachErr = errors.New("second incarnation broke")
		}
		return c
	})
	require.NoError(t, h.manager.Add(Spec{ID: "flaky", Module: "mod/flaky"}))

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, h.engine.Snapshot().Len())

	err = h.manager.HotReload(context.Background(), "flaky")
	var cerr *domain.ComponentError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.CodeInitFailed, cerr.Code)

	assert.Equal(t, domain.StateFailed, h.state(t, "flaky"))
	assert.Equal(t, 0, h.engine.Snapshot().Len(), "a failed reload leaves no stale contributions")
	assert.False(t, h.reg.IsRegistered("flaky"))
}

func TestUnloadOnlyFromStopped(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a"}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)
	require.Error(t, h.manager.Unload(context.Background(), "a"), "running components cannot unload")

	h.manager.StopAll(context.Background())
	require.NoError(t, h.manager.Unload(context.Background(), "a"))
	assert.Equal(t, domain.StateUnloaded, h.state(t, "a"))

	assert.ErrorIs(t, h.manager.Unload(context.Background(), "ghost"), domain.ErrComponentNotFound)
}

func TestStopFailureDoesNotBlockRemainingComponents(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "a"}, Spec{})
	h.add(t, &fakeComponent{id: "b", deps: []string{"a"}, detachErr: errors.New("stuck")}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)

	failed := h.manager.StopAll(context.Background())
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeStopFailed, failed[0].Code)
	assert.Equal(t, "b", failed[0].ComponentID)

	assert.Equal(t, domain.StateFailed, h.state(t, "b"))
	assert.Equal(t, domain.StateStopped, h.state(t, "a"), "a still stops after b's detach fails")
}

func TestDescriptorsSnapshot(t *testing.T) {
	h := newHarness()
	h.add(t, &fakeComponent{id: "b"}, Spec{})
	h.add(t, &fakeComponent{id: "a"}, Spec{})

	_, err := h.manager.StartAll(context.Background())
	require.NoError(t, err)

	descs := h.manager.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "a", descs[0].ID)
	assert.Equal(t, "b", descs[1].ID)
	assert.Equal(t, "1.0.0", descs[0].Version)

	// Mutating the snapshot never reaches the manager's records.
	descs[0].State = domain.StateFailed
	assert.Equal(t, domain.StateRunning, h.state(t, "a"))
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to domain.State
		want     bool
	}{
		{domain.StateRegistered, domain.StateResolved, true},
		{domain.StateResolved, domain.StateInitializing, true},
		{domain.StateStarting, domain.StateRunning, true},
		{domain.StateRunning, domain.StateStopping, true},
		{domain.StateStopped, domain.StateUnloaded, true},
		{domain.StateRunning, domain.StateFailed, true},
		{domain.StateRegistered, domain.StateFailed, true},
		{domain.StateFailed, domain.StateResolved, true},
		{domain.StateRunning, domain.StateUnloaded, false},
		{domain.StateRegistered, domain.StateRunning, false},
		{domain.StateInitializing, domain.StateStarting, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
