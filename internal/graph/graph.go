package graph

import (
	"sort"

	"github.com/armatureio/armature/pkg/domain"
)

// Graph is a directed "depends on" graph over component ids. Edges point
// from a component to each of its dependencies.
type Graph struct {
	deps       map[string][]string // id -> dependency ids, sorted
	dependents map[string][]string // id -> ids that depend on it
}

// New validates the descriptor set and builds the graph. Every referenced
// dependency must exist in the set.
func New(descriptors []*domain.ComponentDescriptor) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(descriptors)),
		dependents: make(map[string][]string, len(descriptors)),
	}

	for _, d := range descriptors {
		g.deps[d.ID] = d.SortedDependencies()
	}

	for _, d := range descriptors {
		for _, dep := range g.deps[d.ID] {
			if _, ok := g.deps[dep]; !ok {
				return nil, &domain.UnknownDependencyError{ComponentID: d.ID, DependencyID: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], d.ID)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	return g, nil
}

// Resolve is the one-shot convenience: build the graph and compute the start order.
func Resolve(descriptors []*domain.ComponentDescriptor) ([]string, error) {
	g, err := New(descriptors)
	if err != nil {
		return nil, err
	}
	return g.StartOrder()
}

// StartOrder computes a topological order via Kahn's algorithm. Nodes whose
// dependencies are all satisfied are consumed in lexicographic id order, so
// the result is reproducible for a given descriptor set. If elimination
// stalls before all nodes are consumed, the graph is cyclic and a
// CyclicDependencyError naming one concrete cycle is returned.
func (g *Graph) StartOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.deps))
	for id, deps := range g.deps {
		indegree[id] = len(deps)
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.deps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.deps) {
		return nil, &domain.CyclicDependencyError{Members: g.findCycle(indegree)}
	}

	return order, nil
}

// StopOrder is the reverse of the given start order.
func StopOrder(startOrder []string) []string {
	out := make([]string, len(startOrder))
	for i, id := range startOrder {
		out[len(startOrder)-1-i] = id
	}
	return out
}

// Dependents returns the ids that directly depend on the given component.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Dependencies returns the given component's direct dependency ids.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// findCycle walks "depends on" edges from a stalled node until an id
// repeats, then returns the loop. Unresolved nodes always have at least one
// unresolved dependency, so the walk terminates. The smallest stalled id is
// chosen as the starting point to keep the reported cycle stable.
func (g *Graph) findCycle(indegree map[string]int) []string {
	var stalled []string
	for id, n := range indegree {
		if n > 0 {
			stalled = append(stalled, id)
		}
	}
	if len(stalled) == 0 {
		return nil
	}
	sort.Strings(stalled)

	unresolved := make(map[string]bool, len(stalled))
	for _, id := range stalled {
		unresolved[id] = true
	}

	seenAt := make(map[string]int)
	var path []string
	current := stalled[0]
	for {
		if at, ok := seenAt[current]; ok {
			return append(path[at:], current)
		}
		seenAt[current] = len(path)
		path = append(path, current)

		// Follow the smallest still-unresolved dependency.
		next := ""
		for _, dep := range g.deps[current] {
			if unresolved[dep] {
				next = dep
				break
			}
		}
		current = next
	}
}
