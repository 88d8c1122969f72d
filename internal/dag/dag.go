// Package dag provides the dependency graph over fully-qualified model names.
// It supports forward references, cycle detection and a deterministic
// topological order.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Node represents a node in the DAG.
type Node struct {
	// ID is the fully-qualified model name
	ID string
	// Data holds the model, or nil for placeholders
	Data any
	// Placeholder is set for nodes only known as someone's dependency
	Placeholder bool
}

// CycleError reports a dependency cycle. Nodes lists the participating names
// in cycle order, starting and ending with the same name.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Nodes, " -> "))
}

// Graph represents a directed acyclic graph of models. An edge runs from a
// dependency (parent) to its dependent (child).
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// Add registers a model and its dependency set. Dependencies that are not
// yet known are created as placeholder nodes; registering them later
// replaces the placeholder data.
func (g *Graph) Add(id string, deps []string, data any) error {
	g.AddNode(id, data)
	for _, dep := range deps {
		if _, exists := g.nodes[dep]; !exists {
			g.addPlaceholder(dep)
		}
		if err := g.AddEdge(dep, id); err != nil {
			return err
		}
	}
	return nil
}

// AddNode adds a node to the graph, or replaces the data of an existing one.
func (g *Graph) AddNode(id string, data any) {
	if node, exists := g.nodes[id]; exists {
		node.Data = data
		node.Placeholder = false
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

func (g *Graph) addPlaceholder(id string) {
	g.AddNode(id, nil)
	g.nodes[id].Placeholder = true
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return &CycleError{Nodes: []string{parentID, parentID}}
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// Parents returns the direct dependencies of a node, sorted.
func (g *Graph) Parents(id string) []string {
	return sortedCopy(g.parents[id])
}

// Children returns the direct dependents of a node, sorted.
func (g *Graph) Children(id string) []string {
	return sortedCopy(g.edges[id])
}

// IDs returns all node IDs in lexical order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// FindCycle returns the first cycle found, walking nodes in lexical order.
// It returns nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.Children(id) {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.IDs() {
		if !visited[id] && dfs(id) {
			return cyclePath
		}
	}
	return nil
}

// Sorted returns node IDs with every dependency before its dependents. Among
// nodes that are ready at the same time the lexically smallest comes first,
// so the order is stable for a fixed graph.
func (g *Graph) Sorted() ([]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Nodes: cycle}
	}

	inDegree := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.IDs() {
		inDegree[id] = len(g.parents[id])
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		for _, child := range g.edges[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				i := sort.SearchStrings(ready, child)
				ready = slices.Insert(ready, i, child)
			}
		}
	}
	return result, nil
}

// Levels returns node IDs grouped by depth. Level 0 holds nodes with no
// dependencies; nodes at level N only depend on lower levels.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.Sorted()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	var levels [][]string
	for _, id := range order {
		l := 0
		for _, p := range g.parents[id] {
			l = max(l, level[p]+1)
		}
		level[id] = l
		if l == len(levels) {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Downstream returns the given nodes and everything that transitively
// depends on them.
func (g *Graph) Downstream(ids ...string) []string {
	return g.walk(ids, g.edges, true)
}

// Upstream returns everything the given node transitively depends on,
// excluding the node itself.
func (g *Graph) Upstream(id string) []string {
	return g.walk([]string{id}, g.parents, false)
}

func (g *Graph) walk(start []string, next map[string][]string, includeStart bool) []string {
	seen := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		for _, n := range next[id] {
			if !seen[n] {
				seen[n] = true
				visit(n)
			}
		}
	}
	for _, id := range start {
		if _, exists := g.nodes[id]; !exists {
			continue
		}
		if includeStart {
			seen[id] = true
		}
		visit(id)
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Roots returns nodes with no dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.IDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns nodes with no dependents.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.IDs() {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	sub := NewGraph()
	nodeSet := make(map[string]bool)

	for _, id := range nodeIDs {
		if node, exists := g.nodes[id]; exists {
			nodeSet[id] = true
			sub.AddNode(id, node.Data)
			sub.nodes[id].Placeholder = node.Placeholder
		}
	}
	for id := range nodeSet {
		for _, childID := range g.edges[id] {
			if nodeSet[childID] {
				_ = sub.AddEdge(id, childID)
			}
		}
	}
	return sub
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}
