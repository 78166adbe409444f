package graph

import (
	"github.com/example/revmigrate/internal/migration"
)

// Inspector answers read-only questions about a built graph for status and
// visualization consumers.
type Inspector struct {
	g     *Graph
	depth []int // longest path from any root, indexed by NodeID
}

// NewInspector creates an Inspector over g.
func NewInspector(g *Graph) *Inspector {
	depth := make([]int, len(g.nodes))
	for _, n := range g.order {
		for _, p := range g.nodes[n].parents {
			if d := depth[p] + 1; d > depth[n] {
				depth[n] = d
			}
		}
	}
	return &Inspector{g: g, depth: depth}
}

// HeadCount returns the number of heads. More than one means the history has
// diverged and needs a merge revision.
func (in *Inspector) HeadCount() int {
	return len(in.g.heads)
}

// IsolatedNodes returns revisions that are both a root and a head.
func (in *Inspector) IsolatedNodes() []string {
	var out []NodeID
	for _, n := range in.g.roots {
		if len(in.g.nodes[n].children) == 0 {
			out = append(out, n)
		}
	}
	return in.g.names(out)
}

// Depth returns the length of the longest path from any root to rev. Roots
// have depth 0.
func (in *Inspector) Depth(rev string) (int, error) {
	n, ok := in.g.index[rev]
	if !ok {
		return 0, migration.NewValidationError(migration.ErrUnknownRevision, rev)
	}
	return in.depth[n], nil
}

// Cycle re-runs cycle detection. A graph produced by Build always returns
// nil.
func (in *Inspector) Cycle() []string {
	return in.g.detectCycle()
}

// CountByTag counts revisions per tag.
func (in *Inspector) CountByTag() map[string]int {
	out := make(map[string]int)
	for _, nd := range in.g.nodes {
		for _, tag := range nd.record.Tags {
			out[tag]++
		}
	}
	return out
}

// CountByAuthor counts revisions per author. Revisions without an author are
// counted under the empty string.
func (in *Inspector) CountByAuthor() map[string]int {
	out := make(map[string]int)
	for _, nd := range in.g.nodes {
		out[nd.record.Author]++
	}
	return out
}

// Filter returns the records accepted by keep in topological order.
func (in *Inspector) Filter(keep func(migration.Record) bool) []migration.Record {
	var out []migration.Record
	for _, n := range in.g.order {
		if keep == nil || keep(in.g.nodes[n].record) {
			out = append(out, in.g.nodes[n].record.Clone())
		}
	}
	return out
}

// Summary aggregates the inspector queries.
type Summary struct {
	Nodes    int            `json:"nodes"`
	Heads    []string       `json:"heads"`
	Roots    []string       `json:"roots"`
	Merges   int            `json:"merges"`
	Isolated []string       `json:"isolated"`
	MaxDepth int            `json:"max_depth"`
	ByTag    map[string]int `json:"by_tag"`
	ByAuthor map[string]int `json:"by_author"`
}

// Summary computes every aggregate in one pass over the graph.
func (in *Inspector) Summary() Summary {
	s := Summary{
		Nodes:    in.g.Len(),
		Heads:    in.g.Heads(),
		Roots:    in.g.Roots(),
		Isolated: in.IsolatedNodes(),
		ByTag:    in.CountByTag(),
		ByAuthor: in.CountByAuthor(),
	}
	for i, nd := range in.g.nodes {
		if nd.record.IsMerge() {
			s.Merges++
		}
		if in.depth[i] > s.MaxDepth {
			s.MaxDepth = in.depth[i]
		}
	}
	return s
}
