package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels for behavior execution metrics.
const (
	OutcomeSuccess      = "success"
	OutcomeFault        = "fault"
	OutcomeSkipped      = "skipped"
	OutcomeShortCircuit = "short_circuit"
	OutcomeTimeout      = "timeout"
	OutcomeCancelled    = "cancelled"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	behaviorExecutionCounter metric.Int64Counter
	behaviorLatencyHistogram metric.Float64Histogram
	chainRunCounter          metric.Int64Counter
	chainLatencyHistogram    metric.Float64Histogram
	chainRebuildCounter      metric.Int64Counter
	stateTransitionCounter   metric.Int64Counter
)

// BehaviorMetrics captures the fields needed to record one behavior execution.
type BehaviorMetrics struct {
	ComponentID string
	BehaviorID  string
	Priority    int
	Outcome     string
	Duration    time.Duration
}

// RecordBehaviorMetrics emits the counter and histogram describing one
// behavior invocation inside a chain run.
func RecordBehaviorMetrics(ctx context.Context, m BehaviorMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("component.id", m.ComponentID),
		attribute.String("behavior.id", m.BehaviorID),
		attribute.Int("behavior.priority", m.Priority),
		attribute.String("behavior.outcome", m.Outcome),
	}

	behaviorExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		behaviorLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// ChainMetrics captures the fields needed to record one full chain run.
type ChainMetrics struct {
	Length   int
	Outcome  string
	Duration time.Duration
}

// RecordChainMetrics emits counters and histograms describing a chain run.
func RecordChainMetrics(ctx context.Context, m ChainMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("chain.length", m.Length),
		attribute.String("chain.outcome", m.Outcome),
	}

	chainRunCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		chainLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordChainRebuild counts snapshot swaps of the active chain.
func RecordChainRebuild(ctx context.Context, length int) {
	if err := ensureMetrics(); err != nil {
		return
	}
	chainRebuildCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("chain.length", length)))
}

// RecordStateTransition counts component lifecycle transitions.
func RecordStateTransition(ctx context.Context, componentID, from, to string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	stateTransitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component.id", componentID),
		attribute.String("state.from", from),
		attribute.String("state.to", to),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("armature.runtime")

		behaviorExecutionCounter, metricsInitErr = meter.Int64Counter(
			"armature.behavior.executions_total",
			metric.WithDescription("Behavior executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		behaviorLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"armature.behavior.duration_ms",
			metric.WithDescription("Observed behavior execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		chainRunCounter, metricsInitErr = meter.Int64Counter(
			"armature.chain.runs_total",
			metric.WithDescription("Chain executions partitioned by terminal outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		chainLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"armature.chain.duration_ms",
			metric.WithDescription("Observed end-to-end chain latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		chainRebuildCounter, metricsInitErr = meter.Int64Counter(
			"armature.chain.rebuilds_total",
			metric.WithDescription("Active chain snapshot swaps"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stateTransitionCounter, metricsInitErr = meter.Int64Counter(
			"armature.component.transitions_total",
			metric.WithDescription("Component lifecycle state transitions"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
