package host

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/armatureio/armature/pkg/domain"
)

// stateResponse is the /state payload: every managed component plus the
// active chain order.
type stateResponse struct {
	Components []stateComponent `json:"components"`
	Chain      []string         `json:"chain"`
}

type stateComponent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"version,omitempty"`
	State        string   `json:"state"`
	Dependencies []string `json:"dependencies,omitempty"`
	Isolation    string   `json:"isolation"`
}

// serveAdmin binds the admin listener and starts serving /healthz, /state,
// and /metrics. The listener is bound synchronously so callers can read the
// resolved address (useful when addr is :0).
func (h *Host) serveAdmin(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/state", h.handleState)
	mux.Handle("/metrics", h.metrics.Handler())

	h.server = &http.Server{
		Handler:      otelhttp.NewHandler(mux, "armature.admin"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding admin listener on %s: %w", addr, err)
	}
	h.listener = listener
	h.logger.Info("admin server listening", "addr", listener.Addr().String())

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("admin server failed", "error", err)
		}
	}()
	return nil
}

func (h *Host) handleState(w http.ResponseWriter, _ *http.Request) {
	descriptors := h.manager.Descriptors()
	resp := stateResponse{
		Components: make([]stateComponent, 0, len(descriptors)),
		Chain:      h.engine.Snapshot().Order(),
	}
	for _, d := range descriptors {
		level := d.Isolation.Level
		if level == "" {
			level = domain.IsolationStandard
		}
		resp.Components = append(resp.Components, stateComponent{
			ID:           d.ID,
			Name:         d.Name,
			Version:      d.Version,
			State:        string(d.State),
			Dependencies: d.Dependencies,
			Isolation:    string(level),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encoding state response failed", "error", err)
	}
}
