package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatureio/armature/pkg/components/audit"
	"github.com/armatureio/armature/pkg/components/requestid"
	"github.com/armatureio/armature/pkg/components/throttle"
	"github.com/armatureio/armature/pkg/config"
	"github.com/armatureio/armature/pkg/domain"
)

// fakeProvider publishes manifests programmatically, without filesystem
// timing in the way.
type fakeProvider struct {
	mu      sync.Mutex
	current *config.Manifest
	subs    []chan *config.Manifest
}

func newFakeProvider(m *config.Manifest) *fakeProvider {
	return &fakeProvider{current: m}
}

func (p *fakeProvider) Current() *config.Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *fakeProvider) Subscribe() <-chan *config.Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *config.Manifest, 4)
	p.subs = append(p.subs, ch)
	ch <- p.current
	return ch
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) publish(m *config.Manifest) {
	p.mu.Lock()
	p.current = m
	subs := append([]chan *config.Manifest(nil), p.subs...)
	p.mu.Unlock()
	for _, ch := range subs {
		ch <- m
	}
}

func enabled(v bool) *bool { return &v }

func builtinManifest(adminAddr string, throttlePerSecond int) *config.Manifest {
	return &config.Manifest{
		Host: config.HostConfig{
			AdminAddress: adminAddr,
			ChainTimeout: config.Duration(time.Second),
		},
		Components: []config.ComponentManifest{
			{ID: "requestid", Module: requestid.ModuleName},
			{ID: "audit", Module: audit.ModuleName},
			{ID: "throttle", Module: throttle.ModuleName,
				Settings: map[string]any{"per_second": throttlePerSecond}},
		},
	}
}

func startHost(t *testing.T, provider Provider) *Host {
	t.Helper()
	h, err := New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Provider: provider,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = h.Shutdown(shutdownCtx)
		cancel()
	})
	return h
}

func componentState(h *Host, id string) domain.State {
	s, err := h.Manager().GetState(id)
	if err != nil {
		return ""
	}
	return s
}

func TestHostStartsManifestComponents(t *testing.T) {
	h := startHost(t, newFakeProvider(builtinManifest("", 1000)))

	for _, id := range []string{"requestid", "audit", "throttle"} {
		assert.Equal(t, domain.StateRunning, componentState(h, id))
	}
	assert.Equal(t,
		[]string{"requestid.stamp", "throttle.admit", "audit.summary"},
		h.Engine().Snapshot().Order(),
		"built-in priorities fix the chain order")

	_, err := h.Execute(context.Background(), "msg")
	require.NoError(t, err)
}

func TestHostExecuteThrottled(t *testing.T) {
	m := builtinManifest("", 1)
	m.Components[2].Settings["burst"] = 1
	h := startHost(t, newFakeProvider(m))

	_, err := h.Execute(context.Background(), "first")
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), "second")
	assert.ErrorIs(t, err, throttle.ErrThrottled)
}

func TestHostAdminEndpoints(t *testing.T) {
	h := startHost(t, newFakeProvider(builtinManifest("127.0.0.1:0", 1000)))
	base := "http://" + h.AdminAddr()
	require.NotEqual(t, "http://", base)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state struct {
		Components []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"components"`
		Chain []string `json:"chain"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.Len(t, state.Components, 3)
	for _, c := range state.Components {
		assert.Equal(t, "running", c.State, "component %s", c.ID)
	}
	assert.Contains(t, state.Chain, "requestid.stamp")

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "armature_components_running")
}

func TestHostDisableComponentViaManifest(t *testing.T) {
	provider := newFakeProvider(builtinManifest("", 1000))
	h := startHost(t, provider)
	require.Equal(t, domain.StateRunning, componentState(h, "throttle"))

	next := builtinManifest("", 1000)
	next.Components[2].Enabled = enabled(false)
	provider.publish(next)

	require.Eventually(t, func() bool {
		return componentState(h, "throttle") == domain.StateStopped
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, h.Engine().Snapshot().Order(), "throttle.admit")

	// Re-enabling brings it back.
	provider.publish(builtinManifest("", 1000))
	require.Eventually(t, func() bool {
		return componentState(h, "throttle") == domain.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHostRemovedComponentStops(t *testing.T) {
	provider := newFakeProvider(builtinManifest("", 1000))
	h := startHost(t, provider)

	next := builtinManifest("", 1000)
	next.Components = next.Components[:2] // drop throttle
	provider.publish(next)

	require.Eventually(t, func() bool {
		return componentState(h, "throttle") == domain.StateStopped
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHostSettingsChangeReloadsComponent(t *testing.T) {
	m := builtinManifest("", 1)
	m.Components[2].Settings["burst"] = 1
	provider := newFakeProvider(m)
	h := startHost(t, provider)

	// Drain the single admission token.
	_, err := h.Execute(context.Background(), "first")
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), "second")
	require.ErrorIs(t, err, throttle.ErrThrottled)

	provider.publish(builtinManifest("", 1000))

	require.Eventually(t, func() bool {
		for i := 0; i < 3; i++ {
			if _, err := h.Execute(context.Background(), fmt.Sprintf("probe-%d", i)); err != nil {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "the reloaded throttle admits at the new rate")
}
