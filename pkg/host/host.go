// Package host wires the runtime together: manifest provider, module
// loader, lifecycle manager, and chain engine. The host applies manifest
// updates at runtime and serves the admin endpoints.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/armatureio/armature/internal/governance"
	"github.com/armatureio/armature/pkg/chain"
	"github.com/armatureio/armature/pkg/config"
	"github.com/armatureio/armature/pkg/domain"
	"github.com/armatureio/armature/pkg/isolation"
	"github.com/armatureio/armature/pkg/lifecycle"
	"github.com/armatureio/armature/pkg/registry"
)

// budgetKeyChain selects the chain deadline from the timeout budget.
const budgetKeyChain = "chain"

// chainTimeoutCeiling caps any configured chain timeout.
const chainTimeoutCeiling = 5 * time.Minute

// Provider supplies manifest snapshots. config.FileProvider implements it.
type Provider interface {
	Current() *config.Manifest
	Subscribe() <-chan *config.Manifest
	Close() error
}

// Options configures a Host.
type Options struct {
	Logger   *slog.Logger
	Provider Provider
	// Loader defaults to a fresh FactoryLoader with the built-in components
	// registered.
	Loader *isolation.FactoryLoader
}

// Host owns the assembled runtime.
type Host struct {
	logger   *slog.Logger
	provider Provider
	loader   *isolation.FactoryLoader
	registry *registry.Registry
	engine   *chain.Engine
	manager  *lifecycle.Manager
	metrics  *Metrics
	budget   *governance.TimeoutBudget

	server   *http.Server
	listener net.Listener

	applied map[string]config.ComponentManifest
}

// New assembles a host from the provider's current manifest.
func New(opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("host requires a manifest provider")
	}
	manifest := opts.Provider.Current()
	if manifest == nil {
		return nil, fmt.Errorf("manifest provider has no current snapshot")
	}

	loader := opts.Loader
	if loader == nil {
		loader = isolation.NewFactoryLoader()
		RegisterBuiltins(loader)
	}

	reg := registry.New()
	engine := chain.NewEngine(chain.EngineConfig{Logger: logger})
	manager := lifecycle.NewManager(lifecycle.Config{
		Logger:   logger,
		Policy:   isolation.NewPolicy(manifest.Host.SharedCore),
		Loader:   loader,
		Registry: reg,
		Engine:   engine,
	})

	budget := governance.NewTimeoutBudget(manifest.Host.ChainTimeout.Std(), chainTimeoutCeiling)

	return &Host{
		logger:   logger,
		provider: opts.Provider,
		loader:   loader,
		registry: reg,
		engine:   engine,
		manager:  manager,
		metrics:  NewMetrics(),
		budget:   budget,
		applied:  make(map[string]config.ComponentManifest),
	}, nil
}

// Start applies the current manifest, brings every enabled component to
// Running, begins watching for manifest updates, and serves the admin
// endpoints when an address is configured. A start pass with component
// failures does not fail the host; the report lands in the log and the
// error accessors.
func (h *Host) Start(ctx context.Context) error {
	manifest := h.provider.Current()
	if err := h.apply(ctx, manifest); err != nil {
		return err
	}

	if addr := manifest.Host.AdminAddress; addr != "" {
		if err := h.serveAdmin(addr); err != nil {
			return err
		}
	}

	go h.watch(ctx)
	return nil
}

// Execute runs one message through the chain, bounded by the configured
// chain timeout.
func (h *Host) Execute(ctx context.Context, message any) (any, error) {
	ec := domain.NewExecutionContext(message)

	start := time.Now()
	result, err := h.engine.ExecuteWithTimeout(ctx, ec, h.budget.For(budgetKeyChain))
	h.metrics.RecordMessage(outcomeOf(err), time.Since(start))
	return result, err
}

// Reload hot-swaps one component.
func (h *Host) Reload(ctx context.Context, id string) error {
	err := h.manager.HotReload(ctx, id)
	if err != nil {
		h.metrics.RecordReload("failure")
		return err
	}
	h.metrics.RecordReload("success")
	return nil
}

// Manager exposes the lifecycle control surface.
func (h *Host) Manager() *lifecycle.Manager {
	return h.manager
}

// Engine exposes the chain engine.
func (h *Host) Engine() *chain.Engine {
	return h.engine
}

// Metrics exposes the host metrics.
func (h *Host) Metrics() *Metrics {
	return h.metrics
}

// AdminAddr returns the admin listener's resolved address, or "" when the
// admin server is not running.
func (h *Host) AdminAddr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown stops the admin server, detaches every component in reverse
// order, and closes the manifest provider.
func (h *Host) Shutdown(ctx context.Context) error {
	var errs []error

	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}

	for _, cerr := range h.manager.StopAll(ctx) {
		errs = append(errs, cerr)
	}
	h.metrics.SetComponentsRunning(0)

	if err := h.provider.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing manifest provider: %w", err))
	}
	return errors.Join(errs...)
}

// watch applies manifest snapshots as the provider publishes them.
func (h *Host) watch(ctx context.Context) {
	updates := h.provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case manifest, ok := <-updates:
			if !ok {
				return
			}
			if err := h.apply(ctx, manifest); err != nil {
				h.logger.Error("applying manifest update failed", "error", err)
			}
		}
	}
}

// apply reconciles the managed component set against a manifest snapshot:
// new enabled entries are added and started, disabled or removed entries are
// stopped, and changed settings trigger a hot reload.
func (h *Host) apply(ctx context.Context, manifest *config.Manifest) error {
	h.budget.Set(budgetKeyChain, manifest.Host.ChainTimeout.Std())

	inManifest := make(map[string]bool, len(manifest.Components))
	needStart := false

	for _, entry := range manifest.Components {
		inManifest[entry.ID] = true
		previous, known := h.applied[entry.ID]

		if !known {
			if !entry.IsEnabled() {
				h.applied[entry.ID] = entry
				continue
			}
			if err := h.addComponent(entry); err != nil {
				h.metrics.RecordManifestApply("failure")
				return err
			}
			h.applied[entry.ID] = entry
			needStart = true
			continue
		}

		if previous.IsEnabled() && !entry.IsEnabled() {
			if err := h.stopQuietly(ctx, entry.ID); err != nil {
				h.logger.Error("disabling component failed", "component_id", entry.ID, "error", err)
			}
		}
		if !previous.IsEnabled() && entry.IsEnabled() {
			if err := h.addComponent(entry); err != nil {
				h.metrics.RecordManifestApply("failure")
				return err
			}
			needStart = true
		}

		if entry.IsEnabled() && !reflect.DeepEqual(previous.Settings, entry.Settings) {
			if err := h.manager.UpdateSettings(entry.ID, entry.Settings); err == nil {
				if state, stateErr := h.manager.GetState(entry.ID); stateErr == nil && state == domain.StateRunning {
					if err := h.Reload(ctx, entry.ID); err != nil {
						h.logger.Error("settings reload failed", "component_id", entry.ID, "error", err)
					}
				}
			}
		}

		h.applied[entry.ID] = entry
	}

	// Entries dropped from the manifest stop running.
	for id := range h.applied {
		if !inManifest[id] {
			if err := h.stopQuietly(ctx, id); err != nil {
				h.logger.Error("stopping removed component failed", "component_id", id, "error", err)
			}
			delete(h.applied, id)
		}
	}

	if needStart {
		report, err := h.manager.StartAll(ctx)
		if err != nil {
			h.metrics.RecordManifestApply("failure")
			return err
		}
		if !report.OK() {
			h.logger.Warn("start pass finished with failures",
				"started", report.Started,
				"failed", len(report.Failed),
			)
		}
	}

	h.metrics.SetComponentsRunning(h.runningCount())
	h.metrics.RecordManifestApply("success")
	return nil
}

// addComponent places a manifest entry under lifecycle management. Already
// managed entries are left as they are.
func (h *Host) addComponent(entry config.ComponentManifest) error {
	req, err := entry.Isolation.Requirements()
	if err != nil {
		return fmt.Errorf("component %q: %w", entry.ID, err)
	}
	err = h.manager.Add(lifecycle.Spec{
		ID:        entry.ID,
		Module:    entry.Module,
		Isolation: req,
		Settings:  entry.Settings,
	})
	var dup *domain.DuplicateRegistrationError
	if err != nil && !errors.As(err, &dup) {
		return fmt.Errorf("adding component %q: %w", entry.ID, err)
	}
	return nil
}

// stopQuietly stops a component, treating not-running as success.
func (h *Host) stopQuietly(ctx context.Context, id string) error {
	err := h.manager.Stop(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotRunning) && !errors.Is(err, domain.ErrComponentNotFound) {
		return err
	}
	return nil
}

func (h *Host) runningCount() int {
	n := 0
	for _, d := range h.manager.Descriptors() {
		if d.State == domain.StateRunning {
			n++
		}
	}
	return n
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	default:
		return "fault"
	}
}
