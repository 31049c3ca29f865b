// Package chain composes the behaviors contributed by running components
// into one ordered, cancellable, timeout-bounded pipeline.
//
// Architecture:
//
// chain.go  - Immutable chain snapshots: build, ordering, index-based dispatch,
//             conditional and error-handler wrapping, deadline bounding
// engine.go - Active-chain ownership: atomic snapshot swaps, per-component
//             contribution splicing, execution with tracing and metrics
//
// A chain is never mutated after construction. The engine swaps whole
// snapshots, so an in-flight request always runs against exactly the chain
// it started with.
package chain
