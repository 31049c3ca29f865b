// Package telemetry wires OpenTelemetry exporters and meters for the
// Armature runtime.
//
// It centralises trace provider setup, applies runtime-specific resource
// attributes, and exposes the metric instruments that describe behavior
// execution, chain rebuilds, and component lifecycle transitions so
// operators can correlate pipeline latency with component churn.
package telemetry
