// Package dag orders computed columns by their dependencies.
//
// An edge runs from a column to every column whose value is computed from
// it, so formulas are validated after the columns they reference and a
// change to one column can be traced to the formulas it affects.
package dag

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Node is one column in the graph.
type Node struct {
	ID     string
	Column *core.Column
}

// Graph is a dependency graph of columns.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // column -> columns computed from it
	parents map[string][]string // column -> columns it is computed from
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a column, replacing the column of an existing node.
func (g *Graph) AddNode(col *core.Column) {
	if n, ok := g.nodes[col.ID]; ok {
		n.Column = col
		return
	}
	g.nodes[col.ID] = &Node{ID: col.ID, Column: col}
	g.edges[col.ID] = []string{}
	g.parents[col.ID] = []string{}
}

// AddEdge records that child is computed from parent.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, ok := g.nodes[parentID]; !ok {
		return fmt.Errorf("parent column %q is not in the graph", parentID)
	}
	if _, ok := g.nodes[childID]; !ok {
		return fmt.Errorf("child column %q is not in the graph", childID)
	}
	if parentID == childID {
		return fmt.Errorf("column %s references itself", parentID)
	}
	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// Node returns a node by column id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the columns id is computed from.
func (g *Graph) Parents(id string) []string {
	return g.parents[id]
}

// Children returns the columns computed from id.
func (g *Graph) Children(id string) []string {
	return g.edges[id]
}

// Len returns the number of columns.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependencies.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, children := range g.edges {
		n += len(children)
	}
	return n
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cycle returns one dependency cycle, first column repeated at the end, or
// nil when the graph is acyclic.
func (g *Graph) Cycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack, cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)
		for _, child := range g.edges[id] {
			if !visited[child] {
				if dfs(child) {
					return true
				}
			} else if onStack[child] {
				start := slices.Index(stack, child)
				cycle = append(slices.Clone(stack[start:]), child)
				return true
			}
		}
		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}
	return nil
}

// CycleError is returned when columns depend on each other.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %v", e.Path)
}

// Is reports sentinel equality.
func (e *CycleError) Is(target error) bool {
	return target == core.ErrFormulaCircularReference
}

// Levels groups the columns so that every column comes after the columns
// it is computed from. Columns of one level are independent of each other.
func (g *Graph) Levels() ([][]string, error) {
	if path := g.Cycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	assigned := make(map[string]int)
	var level func(id string) int
	level = func(id string) int {
		if l, ok := assigned[id]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[id] {
			l = max(l, level(p)+1)
		}
		assigned[id] = l
		return l
	}

	var levels [][]string
	for _, id := range g.ids() {
		l := level(id)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
	}
	for _, id := range g.ids() {
		l := assigned[id]
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Affected returns the given columns and every column computed from them,
// directly or not. Unknown ids are ignored.
func (g *Graph) Affected(changed ...string) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, child := range g.edges[id] {
			mark(child)
		}
	}
	for _, id := range changed {
		if _, ok := g.nodes[id]; ok {
			mark(id)
		}
	}
	return sortedSet(seen)
}

// Upstream returns every column id is computed from, directly or not.
func (g *Graph) Upstream(id string) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		for _, p := range g.parents[id] {
			if !seen[p] {
				seen[p] = true
				mark(p)
			}
		}
	}
	mark(id)
	return sortedSet(seen)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
