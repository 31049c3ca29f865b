package host

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the host's Prometheus metrics. The registry is private so
// tests and embedded hosts never collide on the default one.
type Metrics struct {
	messagesTotal     *prometheus.CounterVec
	messageLatency    *prometheus.HistogramVec
	componentsRunning prometheus.Gauge
	reloadsTotal      *prometheus.CounterVec
	manifestApplies   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the host metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armature_messages_total",
				Help: "Messages executed against the chain by outcome",
			},
			[]string{"outcome"},
		),
		messageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "armature_message_duration_seconds",
				Help:    "End-to-end chain execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		componentsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "armature_components_running",
				Help: "Number of components currently in the Running state",
			},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armature_component_reloads_total",
				Help: "Hot reload attempts by status",
			},
			[]string{"status"},
		),
		manifestApplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armature_manifest_applies_total",
				Help: "Manifest snapshot applications by status",
			},
			[]string{"status"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.messagesTotal,
		m.messageLatency,
		m.componentsRunning,
		m.reloadsTotal,
		m.manifestApplies,
	)
	return m
}

// RecordMessage records one chain execution.
func (m *Metrics) RecordMessage(outcome string, duration time.Duration) {
	m.messagesTotal.WithLabelValues(outcome).Inc()
	m.messageLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetComponentsRunning updates the running-components gauge.
func (m *Metrics) SetComponentsRunning(n int) {
	m.componentsRunning.Set(float64(n))
}

// RecordReload records a hot reload attempt.
func (m *Metrics) RecordReload(status string) {
	m.reloadsTotal.WithLabelValues(status).Inc()
}

// RecordManifestApply records a manifest snapshot application.
func (m *Metrics) RecordManifestApply(status string) {
	m.manifestApplies.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
