package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/resolver"
)

// StepStatus is the outcome of one plan step.
type StepStatus string

const (
	StatusApplied      StepStatus = "applied"
	StatusReverted     StepStatus = "reverted"
	StatusFailed       StepStatus = "failed"
	StatusNotAttempted StepStatus = "not_attempted"
)

// StepResult reports one step of a run.
type StepResult struct {
	RevisionID string        `json:"revision_id"`
	Status     StepStatus    `json:"status"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// RunResult reports a whole run. Steps mirror the plan order.
type RunResult struct {
	RunID     string                  `json:"run_id"`
	Direction migration.Direction     `json:"direction"`
	Steps     []StepResult            `json:"steps"`
	Drift     []*migration.DriftError `json:"-"`
}

func newRunResult(runID string, plan resolver.Plan) *RunResult {
	r := &RunResult{
		RunID:     runID,
		Direction: plan.Direction,
		Steps:     make([]StepResult, len(plan.Steps)),
	}
	for i, rec := range plan.Steps {
		r.Steps[i] = StepResult{RevisionID: rec.RevisionID, Status: StatusNotAttempted}
	}
	return r
}

// Completed returns the revisions whose step committed, in order.
func (r *RunResult) Completed() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status == StatusApplied || s.Status == StatusReverted {
			out = append(out, s.RevisionID)
		}
	}
	return out
}

// Failed returns the failed step, if any.
func (r *RunResult) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Statuses returns the step statuses in plan order.
func (r *RunResult) Statuses() []StepStatus {
	out := make([]StepStatus, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Status
	}
	return out
}

// String renders a one-line summary such as "up a1:applied b2:failed".
func (r *RunResult) String() string {
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = fmt.Sprintf("%s:%s", s.RevisionID, s.Status)
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", r.Direction, strings.Join(parts, " ")))
}
