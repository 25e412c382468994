// Package graph provides a dependency graph for sequencing the delegations
// of one turn.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the plan.
var ErrCycleDetected = errors.New("circular dependency detected")

// Status is a node's scheduling status.
type Status int

const (
	// Pending nodes have not been dispatched.
	Pending Status = iota
	// Dispatched nodes are in flight.
	Dispatched
	// Succeeded nodes completed; their dependents may run.
	Succeeded
	// Failed nodes did not complete successfully.
	Failed
	// Skipped nodes were never dispatched because a prerequisite failed.
	Skipped
)

// DependencyGraph is a directed acyclic graph of delegations.
// Edges point from a delegation to the delegations it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves plan order so ready sets are deterministic.
	order []string
	// nodes maps delegation ID to the delegation itself.
	nodes map[string]models.Delegation
	// edges maps delegation ID to IDs it depends on.
	edges map[string][]string
	// status tracks each node's scheduling status.
	status map[string]Status
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]models.Delegation),
		edges:    make(map[string][]string),
		status:   make(map[string]Status),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from a plan's delegations. It rejects empty or
// duplicate IDs, dependencies on unknown delegations, and cycles.
func (g *DependencyGraph) Build(delegations []models.Delegation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d delegations", len(delegations))

	for _, d := range delegations {
		if d.ID == "" {
			return fmt.Errorf("delegation to %s has no id", d.Worker)
		}
		if _, dup := g.nodes[d.ID]; dup {
			return fmt.Errorf("duplicate delegation id %s", d.ID)
		}
		g.nodes[d.ID] = d
		g.edges[d.ID] = nil
		g.status[d.ID] = Pending
		g.order = append(g.order, d.ID)
	}

	for _, d := range delegations {
		for _, depID := range d.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("delegation %s depends on unknown delegation %s", d.ID, depID)
			}
			g.edges[d.ID] = append(g.edges[d.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] edges: %v", g.edges)
	return nil
}

// hasCycleLocked detects back edges with a three-colour DFS.
func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = on stack, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns delegation IDs with every dependency before its
// dependents, ties broken by plan order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// GetReady returns pending delegations whose prerequisites all succeeded,
// in plan order. They may be dispatched in parallel.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.status[id] != Pending {
			continue
		}
		satisfied := true
		for _, depID := range g.edges[id] {
			if g.status[depID] != Succeeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}

	g.debugLog("[graph.GetReady] %d ready: %v", len(ready), ready)
	return ready
}

// MarkDispatched records that a delegation is in flight.
func (g *DependencyGraph) MarkDispatched(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = Dispatched
}

// MarkComplete records a successful delegation, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.debugLog("[graph.MarkComplete] %s", id)
	g.status[id] = Succeeded
}

// MarkFailed records a failed delegation and skips every pending delegation
// that transitively depends on it. It returns the skipped IDs in plan order.
func (g *DependencyGraph) MarkFailed(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.MarkFailed] %s", id)
	g.status[id] = Failed

	var skipped []string
	changed := true
	for changed {
		changed = false
		for _, nid := range g.order {
			if g.status[nid] != Pending {
				continue
			}
			for _, depID := range g.edges[nid] {
				if s := g.status[depID]; s == Failed || s == Skipped {
					g.status[nid] = Skipped
					skipped = append(skipped, nid)
					changed = true
					break
				}
			}
		}
	}
	if len(skipped) > 0 {
		g.debugLog("[graph.MarkFailed] skipped dependents of %s: %v", id, skipped)
	}
	return skipped
}

// Done returns true once no delegation is pending or in flight.
func (g *DependencyGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.status {
		if s == Pending || s == Dispatched {
			return false
		}
	}
	return true
}

// Status returns a delegation's scheduling status.
func (g *DependencyGraph) Status(id string) Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status[id]
}

// Get returns the delegation for an ID.
func (g *DependencyGraph) Get(id string) (models.Delegation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.nodes[id]
	return d, ok
}

// Size returns the number of delegations in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependents returns the IDs that directly depend on the delegation.
func (g *DependencyGraph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, nid := range g.order {
		for _, depID := range g.edges[nid] {
			if depID == id {
				dependents = append(dependents, nid)
				break
			}
		}
	}
	return dependents
}
