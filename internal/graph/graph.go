// Package graph provides a dependency graph for package ordering.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quara-dev/repo/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found between packages.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError lists the packages caught in circular dependencies. It
// matches ErrCycleDetected with errors.Is.
type CycleError struct {
	// Cycles holds one entry per strongly connected group, each sorted
	// by relative path.
	Cycles [][]*models.Package
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = DescribeCycle(c)
	}
	return strings.Join(parts, "; ")
}

// Is reports whether target is ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// DescribeCycle names the packages of one cycle.
func DescribeCycle(cycle []*models.Package) string {
	names := make([]string, len(cycle))
	for i, p := range cycle {
		names[i] = p.Name
	}
	return fmt.Sprintf("%v between %s", ErrCycleDetected, strings.Join(names, ", "))
}

// DependencyGraph represents a directed acyclic graph of private package
// dependencies. Packages are nodes keyed by their absolute path, and edges
// represent "depends on" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps package path to the package itself.
	nodes map[string]*models.Package
	// edges maps package path to paths of packages it depends on.
	edges map[string][]string
	// completed tracks which packages have finished.
	completed map[string]bool
	// started tracks which packages were handed out by Ready.
	started map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Package),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		started:   make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from pkgs. Private dependencies that point
// outside pkgs are ignored: they are not part of this run.
// Returns a *CycleError if packages depend on each other circularly. The
// graph is complete in that case; Remove the cycle members to order the
// rest.
func (g *DependencyGraph) Build(pkgs []*models.Package) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d packages", len(pkgs))

	for _, pkg := range pkgs {
		if _, dup := g.nodes[pkg.Path]; dup {
			return fmt.Errorf("package %s added twice", pkg.Path)
		}
		g.nodes[pkg.Path] = pkg
		g.edges[pkg.Path] = nil
	}

	for _, pkg := range pkgs {
		for _, dep := range pkg.PrivateDependencies {
			if _, exists := g.nodes[dep]; !exists {
				g.debugLog("[graph.Build] %s: dependency %s not in graph, ignored", pkg.Name, dep)
				continue
			}
			if dep == pkg.Path {
				continue
			}
			g.edges[pkg.Path] = append(g.edges[pkg.Path], dep)
		}
		sort.Strings(g.edges[pkg.Path])
	}

	g.debugLog("[graph.Build] graph built with %d nodes", len(g.nodes))
	if cycles := g.cyclesLocked(); len(cycles) > 0 {
		return &CycleError{Cycles: cycles}
	}
	return nil
}

// cyclesLocked returns the strongly connected groups of more than one
// package (Tarjan), in relative path order. Assumes the lock is held.
func (g *DependencyGraph) cyclesLocked() [][]*models.Package {
	index := make(map[string]int, len(g.nodes))
	low := make(map[string]int, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	var stack []string
	var cycles [][]*models.Package
	next := 0

	var connect func(id string)
	connect = func(id string) {
		index[id] = next
		low[id] = next
		next++
		stack = append(stack, id)
		onStack[id] = true

		for _, dep := range g.edges[id] {
			if _, seen := index[dep]; !seen {
				connect(dep)
				low[id] = min(low[id], low[dep])
			} else if onStack[dep] {
				low[id] = min(low[id], index[dep])
			}
		}

		if low[id] != index[id] {
			return
		}
		var group []*models.Package
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			group = append(group, g.nodes[top])
			if top == id {
				break
			}
		}
		if len(group) > 1 {
			sort.Slice(group, func(i, j int) bool { return group[i].RelPath < group[j].RelPath })
			cycles = append(cycles, group)
		}
	}

	for _, id := range g.sortedIDsLocked() {
		if _, seen := index[id]; !seen {
			connect(id)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0].RelPath < cycles[j][0].RelPath })
	return cycles
}

// Remove drops the package at path and every edge pointing to it.
func (g *DependencyGraph) Remove(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Remove] %s", path)
	delete(g.nodes, path)
	delete(g.edges, path)
	delete(g.completed, path)
	delete(g.started, path)
	for id, deps := range g.edges {
		kept := deps[:0]
		for _, dep := range deps {
			if dep != path {
				kept = append(kept, dep)
			}
		}
		g.edges[id] = kept
	}
}

// hasCycleLocked assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.sortedIDsLocked() {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns packages so that every package comes after the
// packages it depends on. Ties are broken by relative path, so the result
// is the same on every run.
func (g *DependencyGraph) TopologicalSort() ([]*models.Package, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]*models.Package, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.sortedIDsLocked() {
		visit(id)
	}
	return result, nil
}

// Ready returns packages that are not started and whose dependencies have
// all completed, sorted by relative path. Returned packages are marked
// started and will not be returned again.
func (g *DependencyGraph) Ready() []*models.Package {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*models.Package
	for _, id := range g.sortedIDsLocked() {
		if g.started[id] || g.completed[id] {
			continue
		}
		satisfied := true
		for _, dep := range g.edges[id] {
			if !g.completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			g.started[id] = true
			ready = append(ready, g.nodes[id])
		}
	}

	g.debugLog("[graph.Ready] %d packages ready", len(ready))
	return ready
}

// MarkComplete marks a package as finished, whatever its outcome.
// This affects subsequent calls to Ready.
func (g *DependencyGraph) MarkComplete(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.MarkComplete] %s", path)
	g.completed[path] = true
}

// Done returns true when every package has completed.
func (g *DependencyGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.completed) == len(g.nodes)
}

// Get returns the package at path, or nil if not found.
func (g *DependencyGraph) Get(path string) *models.Package {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[path]
}

// GetDependents returns the paths of packages that depend on path.
func (g *DependencyGraph) GetDependents(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.sortedIDsLocked() {
		for _, dep := range g.edges[id] {
			if dep == path {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// sortedIDsLocked returns node IDs ordered by relative path.
func (g *DependencyGraph) sortedIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return ids[i] < ids[j]
	})
	return ids
}
