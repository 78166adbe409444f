package migrator

import (
	"context"

	"github.com/example/revmigrate/internal/executor"
	"github.com/example/revmigrate/internal/graph"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/resolver"
)

// AppliedRevision is a ledger entry joined with its current record.
type AppliedRevision struct {
	Entry   migration.Entry
	Record  migration.Record
	Known   bool // false when the revision has no migration file
	Drifted bool
}

// Status describes the project: what is applied, what is pending and where
// the graph and the database stand.
type Status struct {
	Applied       []AppliedRevision
	Pending       []migration.Record
	Heads         []string // heads of the migration graph
	DatabaseHeads []string // applied revisions with no applied child
	Unknown       []string // ledger entries without a migration file
	Drift         []*migration.DriftError
}

// UpToDate reports whether nothing is pending and the ledger is clean.
func (s *Status) UpToDate() bool {
	return len(s.Pending) == 0 && len(s.Unknown) == 0 && len(s.Drift) == 0
}

// Status reports the project state. Unknown ledger entries and drift are
// reported rather than returned as errors.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	g, entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Heads: g.Heads(),
		Drift: executor.CheckDrift(entries, g),
	}
	drifted := make(map[string]bool, len(st.Drift))
	for _, d := range st.Drift {
		drifted[d.RevisionID] = true
	}

	for _, e := range entries {
		rec, ok := g.Lookup(e.RevisionID)
		if !ok {
			st.Unknown = append(st.Unknown, e.RevisionID)
		}
		st.Applied = append(st.Applied, AppliedRevision{
			Entry:   e,
			Record:  rec,
			Known:   ok,
			Drifted: drifted[e.RevisionID],
		})
	}

	state := resolver.StateFromEntries(entries)
	st.Pending = resolver.New(g).ComputePending(state)
	st.DatabaseHeads = databaseHeads(g, state)
	return st, nil
}

func databaseHeads(g *graph.Graph, state resolver.State) []string {
	var heads []string
	for _, id := range g.TopologicalOrder() {
		if !state.Has(id) {
			continue
		}
		top := true
		for _, child := range g.Children(id) {
			if state.Has(child) {
				top = false
				break
			}
		}
		if top {
			heads = append(heads, id)
		}
	}
	return heads
}
