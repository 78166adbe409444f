// Package resolver turns the applied state and a target into an ordered
// execution plan over a revision graph. It is pure: it never touches the
// database and holds no state beyond the immutable graph.
package resolver

import (
	"fmt"

	"github.com/example/revmigrate/internal/graph"
	"github.com/example/revmigrate/internal/migration"
)

// Plan is an ordered list of steps in one direction.
type Plan struct {
	Direction migration.Direction
	Steps     []migration.Record
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Revisions returns the step ids in execution order.
func (p Plan) Revisions() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.RevisionID
	}
	return out
}

// Resolver plans over one graph.
type Resolver struct {
	g *graph.Graph
}

// New creates a Resolver for g.
func New(g *graph.Graph) *Resolver {
	return &Resolver{g: g}
}

// Heads returns the heads of the graph.
func (r *Resolver) Heads() []string {
	return r.g.Heads()
}

// ComputePending returns every revision reachable from the heads that is not
// applied, in topological order.
func (r *Resolver) ComputePending(state State) []migration.Record {
	var pending []migration.Record
	for _, id := range r.g.TopologicalOrder() {
		if !state.Has(id) {
			rec, _ := r.g.Lookup(id)
			pending = append(pending, rec)
		}
	}
	return pending
}

// Check verifies that state only names revisions of the graph and is closed
// under ancestry.
func (r *Resolver) Check(state State) error {
	for _, id := range state.order {
		if !r.g.Has(id) {
			err := migration.NewValidationError(migration.ErrUnknownRevision, id)
			err.Detail = "recorded in the ledger but absent from the migrations"
			return err
		}
	}
	for _, id := range state.order {
		for _, parent := range r.g.Parents(id) {
			if !state.Has(parent) {
				err := migration.NewValidationError(migration.ErrInconsistentLedger, id, parent)
				err.Detail = "applied while its parent is not"
				return err
			}
		}
	}
	return nil
}

// PlanUp returns the revisions to apply, in order, to move state toward
// target. A revision becomes eligible once all its parents are applied or
// planned; among eligible revisions the oldest goes first. Nothing pending
// yields an empty plan.
func (r *Resolver) PlanUp(state State, target Target, filter Filter) (Plan, error) {
	plan := Plan{Direction: migration.Up}
	if err := target.validate(migration.Up); err != nil {
		return plan, err
	}
	if err := r.Check(state); err != nil {
		return plan, err
	}

	candidates := make(map[string]struct{})
	limit := -1

	switch target.kind {
	case targetRevision:
		if !r.g.Has(target.revision) {
			return plan, migration.NewValidationError(migration.ErrUnknownRevision, target.revision)
		}
		for id := range r.g.Closure(target.revision) {
			if !state.Has(id) {
				candidates[id] = struct{}{}
			}
		}
	case targetAllHeads:
		for _, rec := range r.ComputePending(state) {
			candidates[rec.RevisionID] = struct{}{}
		}
	case targetHead, targetSteps:
		for _, rec := range r.ComputePending(state) {
			if filter.Allows(rec) {
				candidates[rec.RevisionID] = struct{}{}
			}
		}
		if len(candidates) == 0 {
			return plan, nil
		}
		if heads := r.g.Heads(); len(heads) > 1 {
			err := migration.NewValidationError(migration.ErrAmbiguousResolution, "", heads...)
			err.Detail = "history has diverged; choose a target revision or add a merge revision"
			return plan, err
		}
		if target.kind == targetSteps {
			limit = target.steps
		}
	}

	planned := make(map[string]struct{}, len(candidates))
	done := func(id string) bool {
		if state.Has(id) {
			return true
		}
		_, ok := planned[id]
		return ok
	}

	for limit < 0 || len(plan.Steps) < limit {
		var next migration.Record
		found := false
		for id := range candidates {
			if _, ok := planned[id]; ok {
				continue
			}
			rec, _ := r.g.Lookup(id)
			if !filter.Allows(rec) || !allDone(rec.DownRevisions, done) {
				continue
			}
			if !found || rec.Before(next) {
				next, found = rec, true
			}
		}
		if !found {
			break
		}
		planned[next.RevisionID] = struct{}{}
		plan.Steps = append(plan.Steps, next)
	}
	return plan, nil
}

// PlanDown returns the revisions to revert, most recently applied first. A
// revision is only reverted once none of its children is applied.
func (r *Resolver) PlanDown(state State, target Target, filter Filter) (Plan, error) {
	plan := Plan{Direction: migration.Down}
	if err := target.validate(migration.Down); err != nil {
		return plan, err
	}
	if err := r.Check(state); err != nil {
		return plan, err
	}

	candidates := make(map[string]struct{})
	limit := -1

	switch target.kind {
	case targetRevision:
		if !r.g.Has(target.revision) {
			return plan, migration.NewValidationError(migration.ErrUnknownRevision, target.revision)
		}
		for _, id := range r.g.Descendants(target.revision) {
			if state.Has(id) {
				candidates[id] = struct{}{}
			}
		}
	case targetSteps:
		limit = target.steps
		fallthrough
	default:
		for _, id := range state.order {
			candidates[id] = struct{}{}
		}
	}

	remaining := make(map[string]struct{}, state.Len())
	for _, id := range state.order {
		remaining[id] = struct{}{}
	}
	childApplied := func(id string) bool {
		for _, c := range r.g.Children(id) {
			if _, ok := remaining[c]; ok {
				return true
			}
		}
		return false
	}

	for limit < 0 || len(plan.Steps) < limit {
		best := ""
		for id := range candidates {
			if _, ok := remaining[id]; !ok || childApplied(id) {
				continue
			}
			rec, _ := r.g.Lookup(id)
			if !filter.Allows(rec) {
				continue
			}
			if best == "" || state.rank(id) > state.rank(best) {
				best = id
			}
		}
		if best == "" {
			break
		}
		delete(remaining, best)
		rec, _ := r.g.Lookup(best)
		plan.Steps = append(plan.Steps, rec)
	}
	return plan, nil
}

func allDone(ids []string, done func(string) bool) bool {
	for _, id := range ids {
		if !done(id) {
			return false
		}
	}
	return true
}

// String renders a plan for logs and dry runs.
func (p Plan) String() string {
	return fmt.Sprintf("%s %v", p.Direction, p.Revisions())
}
