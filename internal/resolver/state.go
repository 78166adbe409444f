package resolver

import (
	"slices"

	"github.com/example/revmigrate/internal/migration"
)

// State is the set of applied revisions together with the order in which
// they were applied. The zero value is an empty state.
type State struct {
	order    []string
	position map[string]int
}

// NewState builds a state from revision ids in application order. Repeated
// ids keep their first position.
func NewState(ids ...string) State {
	s := State{position: make(map[string]int, len(ids))}
	for _, id := range ids {
		if _, ok := s.position[id]; ok {
			continue
		}
		s.position[id] = len(s.order)
		s.order = append(s.order, id)
	}
	return s
}

// StateFromEntries builds a state from ledger entries, ordering them by
// application time.
func StateFromEntries(entries []migration.Entry) State {
	sorted := slices.Clone(entries)
	migration.SortEntries(sorted)
	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.RevisionID
	}
	return NewState(ids...)
}

// Has reports whether id is applied.
func (s State) Has(id string) bool {
	_, ok := s.position[id]
	return ok
}

// Len returns the number of applied revisions.
func (s State) Len() int {
	return len(s.order)
}

// Revisions returns the applied ids in application order.
func (s State) Revisions() []string {
	return slices.Clone(s.order)
}

// rank is the application position of id; later applications rank higher.
func (s State) rank(id string) int {
	if p, ok := s.position[id]; ok {
		return p
	}
	return -1
}
