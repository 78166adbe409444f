// Package graph holds the validated revision DAG.
//
// Nodes live in an arena addressed by NodeID; parent and child links are
// NodeIDs into that arena rather than pointers, so merge revisions with
// several parents never form reference cycles. A Graph is immutable after
// Build and safe for concurrent readers.
package graph

import (
	"slices"

	"github.com/example/revmigrate/internal/migration"
)

// NodeID addresses a node inside one Graph. IDs are not stable across builds.
type NodeID int

type node struct {
	record   migration.Record
	parents  []NodeID
	children []NodeID
}

// Graph is a validated, acyclic set of revisions.
type Graph struct {
	nodes []node
	index map[string]NodeID
	heads []NodeID
	roots []NodeID
	order []NodeID // topological, parents first
}

// Len returns the number of revisions.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Has reports whether id names a revision of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// ID resolves a revision id to its NodeID.
func (g *Graph) ID(id string) (NodeID, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Lookup returns a copy of the record for id.
func (g *Graph) Lookup(id string) (migration.Record, bool) {
	n, ok := g.index[id]
	if !ok {
		return migration.Record{}, false
	}
	return g.nodes[n].record.Clone(), true
}

// Record returns the record stored at n. It panics on an id from another
// graph, like an out of range slice index.
func (g *Graph) Record(n NodeID) migration.Record {
	return g.nodes[n].record.Clone()
}

// Heads returns the revisions no other revision names as parent, ordered by
// creation time.
func (g *Graph) Heads() []string {
	return g.names(g.heads)
}

// Roots returns the revisions without parents, ordered by creation time.
func (g *Graph) Roots() []string {
	return g.names(g.roots)
}

// Parents returns the down revisions of id in declaration order.
func (g *Graph) Parents(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.nodes[n].parents)
}

// Children returns the revisions naming id as a parent.
func (g *Graph) Children(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.nodes[n].children)
}

// Ancestors returns every revision reachable from id through parent links,
// excluding id, in topological order.
func (g *Graph) Ancestors(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := g.walk([]NodeID{n}, func(x NodeID) []NodeID { return g.nodes[x].parents })
	delete(seen, n)
	return g.names(g.inOrder(seen))
}

// Descendants returns every revision reachable from id through child links,
// excluding id, in topological order.
func (g *Graph) Descendants(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := g.walk([]NodeID{n}, func(x NodeID) []NodeID { return g.nodes[x].children })
	delete(seen, n)
	return g.names(g.inOrder(seen))
}

// Closure returns the given revisions together with all their ancestors.
// Unknown ids are ignored.
func (g *Graph) Closure(ids ...string) map[string]struct{} {
	start := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.index[id]; ok {
			start = append(start, n)
		}
	}
	seen := g.walk(start, func(x NodeID) []NodeID { return g.nodes[x].parents })
	out := make(map[string]struct{}, len(seen))
	for n := range seen {
		out[g.nodes[n].record.RevisionID] = struct{}{}
	}
	return out
}

// TopologicalOrder lists every revision with parents before children. Among
// revisions that become ready together the older one comes first.
func (g *Graph) TopologicalOrder() []string {
	return g.names(g.order)
}

// Records returns copies of all records in topological order.
func (g *Graph) Records() []migration.Record {
	out := make([]migration.Record, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, g.nodes[n].record.Clone())
	}
	return out
}

func (g *Graph) names(ids []NodeID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = g.nodes[n].record.RevisionID
	}
	return out
}

func (g *Graph) walk(start []NodeID, next func(NodeID) []NodeID) map[NodeID]struct{} {
	seen := make(map[NodeID]struct{}, len(start))
	stack := slices.Clone(start)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, next(n)...)
	}
	return seen
}

func (g *Graph) inOrder(set map[NodeID]struct{}) []NodeID {
	out := make([]NodeID, 0, len(set))
	for _, n := range g.order {
		if _, ok := set[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
