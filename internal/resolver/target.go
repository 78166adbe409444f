package resolver

import (
	"fmt"

	"github.com/example/revmigrate/internal/migration"
)

type targetKind int

const (
	targetHead targetKind = iota
	targetRevision
	targetSteps
	targetAllHeads
	targetBase
)

// Target tells a plan where to stop. The zero value is Head().
type Target struct {
	kind     targetKind
	revision string
	steps    int
}

// Head targets the single head of the graph. Upgrading with it fails with
// ErrAmbiguousResolution when the history has diverged.
func Head() Target { return Target{kind: targetHead} }

// Revision targets a specific revision: upgrading applies it and its
// ancestors, downgrading reverts everything applied on top of it.
func Revision(id string) Target { return Target{kind: targetRevision, revision: id} }

// Steps limits the plan to n steps.
func Steps(n int) Target { return Target{kind: targetSteps, steps: n} }

// AllHeads upgrades every branch, or downgrades everything.
func AllHeads() Target { return Target{kind: targetAllHeads} }

// Base downgrades everything. It is not a valid upgrade target.
func Base() Target { return Target{kind: targetBase} }

// String implements fmt.Stringer for logging.
func (t Target) String() string {
	switch t.kind {
	case targetRevision:
		return "revision " + t.revision
	case targetSteps:
		return fmt.Sprintf("%d steps", t.steps)
	case targetAllHeads:
		return "all heads"
	case targetBase:
		return "base"
	default:
		return "head"
	}
}

func (t Target) validate(dir migration.Direction) error {
	invalid := func(detail string) error {
		err := migration.NewValidationError(migration.ErrInvalidTarget, t.revision)
		err.Detail = detail
		return err
	}
	switch {
	case t.kind == targetSteps && t.steps <= 0:
		return invalid(fmt.Sprintf("step count must be positive, got %d", t.steps))
	case t.kind == targetRevision && t.revision == "":
		return invalid("empty revision")
	case dir == migration.Up && t.kind == targetBase:
		return invalid("base is not an upgrade target")
	case dir == migration.Down && t.kind == targetHead:
		return invalid("head is not a downgrade target")
	}
	return nil
}
