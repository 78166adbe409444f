package graph

import (
	"fmt"
	"slices"

	"github.com/example/revmigrate/internal/migration"
)

// Build validates records and assembles them into a Graph. It fails with a
// *migration.ValidationError of kind ErrInvalidRecord, ErrDuplicateRevision,
// ErrUnresolvedParent or ErrCycleDetected. An empty input yields an empty
// graph.
func Build(records []migration.Record) (*Graph, error) {
	sorted := make([]migration.Record, len(records))
	for i, rec := range records {
		sorted[i] = rec.Clone()
	}
	// Arena order follows creation time, so child lists and heads come out
	// ordered without a separate sort.
	slices.SortStableFunc(sorted, func(a, b migration.Record) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})

	g := &Graph{
		nodes: make([]node, len(sorted)),
		index: make(map[string]NodeID, len(sorted)),
	}
	for i, rec := range sorted {
		if rec.RevisionID == "" {
			err := migration.NewValidationError(migration.ErrInvalidRecord, "")
			err.Detail = fmt.Sprintf("empty revision id in %s", sourceOf(rec))
			return nil, err
		}
		if prev, dup := g.index[rec.RevisionID]; dup {
			err := migration.NewValidationError(migration.ErrDuplicateRevision, rec.RevisionID)
			err.Detail = fmt.Sprintf("defined in %s and %s", sourceOf(g.nodes[prev].record), sourceOf(rec))
			return nil, err
		}
		g.nodes[i].record = rec
		g.index[rec.RevisionID] = NodeID(i)
	}

	for i := range g.nodes {
		rec := g.nodes[i].record
		seen := make(map[string]struct{}, len(rec.DownRevisions))
		for _, parent := range rec.DownRevisions {
			if _, dup := seen[parent]; dup {
				err := migration.NewValidationError(migration.ErrInvalidRecord, rec.RevisionID, parent)
				err.Detail = "parent listed twice"
				return nil, err
			}
			seen[parent] = struct{}{}

			p, ok := g.index[parent]
			if !ok {
				return nil, migration.NewValidationError(migration.ErrUnresolvedParent, rec.RevisionID, parent)
			}
			g.nodes[i].parents = append(g.nodes[i].parents, p)
		}
	}

	for i := range g.nodes {
		for _, p := range g.nodes[i].parents {
			g.nodes[p].children = append(g.nodes[p].children, NodeID(i))
		}
	}

	if cycle := g.detectCycle(); cycle != nil {
		return nil, migration.NewValidationError(migration.ErrCycleDetected, cycle[0], cycle...)
	}

	for i := range g.nodes {
		if len(g.nodes[i].children) == 0 {
			g.heads = append(g.heads, NodeID(i))
		}
		if len(g.nodes[i].parents) == 0 {
			g.roots = append(g.roots, NodeID(i))
		}
	}
	g.order = g.topologicalSort()

	return g, nil
}

const (
	white = iota // unvisited
	gray         // on the current DFS path
	black        // finished
)

// detectCycle runs a three-color DFS along parent links and returns the ids
// of the first cycle found, closed with its starting id, or nil.
func (g *Graph) detectCycle() []string {
	color := make([]int, len(g.nodes))
	var path []NodeID
	var cycle []NodeID

	var visit func(n NodeID) bool
	visit = func(n NodeID) bool {
		color[n] = gray
		path = append(path, n)
		for _, p := range g.nodes[n].parents {
			switch color[p] {
			case gray:
				start := slices.Index(path, p)
				cycle = append(slices.Clone(path[start:]), p)
				return true
			case white:
				if visit(p) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && visit(NodeID(i)) {
			return g.names(cycle)
		}
	}
	return nil
}

// topologicalSort is Kahn's algorithm; among ready nodes the lowest arena
// index, i.e. the oldest revision, goes first.
func (g *Graph) topologicalSort() []NodeID {
	indegree := make([]int, len(g.nodes))
	var ready []NodeID
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].parents)
		if indegree[i] == 0 {
			ready = append(ready, NodeID(i))
		}
	}

	order := make([]NodeID, 0, len(g.nodes))
	for len(ready) > 0 {
		next := slices.Min(ready)
		ready = slices.DeleteFunc(ready, func(n NodeID) bool { return n == next })
		order = append(order, next)
		for _, c := range g.nodes[next].children {
			// A merge lists each parent once, so one decrement per edge.
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order
}

func sourceOf(rec migration.Record) string {
	if rec.Source != "" {
		return rec.Source
	}
	return "<memory>"
}
