// Package graph builds the component dependency graph and computes the
// deterministic start order used by the lifecycle manager. Stop order is the
// exact reverse of start order. Resolution is all-or-nothing: a cycle
// anywhere in the graph fails the whole batch.
package graph
