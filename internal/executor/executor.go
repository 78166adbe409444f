// Package executor applies and reverts revisions against a ledger store.
// Every step runs in its own transaction; a run stops at the first failed
// step and never undoes steps that already committed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/revmigrate/internal/ledger"
	"github.com/example/revmigrate/internal/logging"
	"github.com/example/revmigrate/internal/metrics"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/resolver"
)

// DefaultProjectID names the lock when no project is configured.
const DefaultProjectID = "default"

// DefaultReleaseTimeout bounds lock release after the run context is done.
const DefaultReleaseTimeout = 10 * time.Second

// Catalog looks up the current content of a revision. *graph.Graph
// satisfies it.
type Catalog interface {
	Lookup(id string) (migration.Record, bool)
}

// Options configures an Executor.
type Options struct {
	ProjectID      string        // Lock scope; DefaultProjectID when empty
	StepTimeout    time.Duration // Per-step deadline; zero disables it
	ReleaseTimeout time.Duration // Lock release deadline; DefaultReleaseTimeout when zero
	DriftPolicy    DriftPolicy   // Checked before up runs
	Catalog        Catalog       // Required for drift checks
	Logger         *slog.Logger  // Falls back to the context logger, then slog.Default
	Metrics        *metrics.Recorder
	Now            func() time.Time
	NewRunID       func() string // Run identifier source; random UUIDs when nil
}

// Executor runs plans against one store.
type Executor struct {
	store ledger.Store
	opts  Options
}

// New creates an Executor.
func New(store ledger.Store, opts Options) *Executor {
	if opts.ProjectID == "" {
		opts.ProjectID = DefaultProjectID
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = DefaultReleaseTimeout
	}
	if opts.DriftPolicy == "" {
		opts.DriftPolicy = DriftWarn
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	return &Executor{store: store, opts: opts}
}

// Apply runs the up script of rec and records it in the ledger, in one
// transaction. It does not take the project lock; RunPlan does.
func (e *Executor) Apply(ctx context.Context, rec migration.Record) (migration.Entry, error) {
	ctx, cancel := e.stepContext(ctx)
	defer cancel()

	start := e.opts.Now()
	var entry migration.Entry
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Exec(ctx, rec.UpScript); err != nil {
			return migration.NewExecutionError(rec.RevisionID, migration.Up, "execute up script", err)
		}
		now := e.opts.Now()
		entry = migration.Entry{
			RevisionID: rec.RevisionID,
			AppliedAt:  now.UTC(),
			Checksum:   rec.Checksum(),
			Duration:   now.Sub(start),
		}
		if err := tx.Record(ctx, entry); err != nil {
			return migration.NewExecutionError(rec.RevisionID, migration.Up, "record ledger entry", err)
		}
		return nil
	})
	if err != nil {
		return migration.Entry{}, asExecutionError(rec.RevisionID, migration.Up, err)
	}
	return entry, nil
}

// Revert runs the down script of rec and removes its ledger entry, in one
// transaction. It does not take the project lock; RunPlan does.
func (e *Executor) Revert(ctx context.Context, rec migration.Record) error {
	ctx, cancel := e.stepContext(ctx)
	defer cancel()

	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Exec(ctx, rec.DownScript); err != nil {
			return migration.NewExecutionError(rec.RevisionID, migration.Down, "execute down script", err)
		}
		if err := tx.Remove(ctx, rec.RevisionID); err != nil {
			return migration.NewExecutionError(rec.RevisionID, migration.Down, "remove ledger entry", err)
		}
		return nil
	})
	if err != nil {
		return asExecutionError(rec.RevisionID, migration.Down, err)
	}
	return nil
}

// asExecutionError keeps an ExecutionError raised inside the transaction and
// wraps failures of the transaction itself (begin, commit).
func asExecutionError(rev string, dir migration.Direction, err error) error {
	var execErr *migration.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return migration.NewExecutionError(rev, dir, "run transaction", err)
}

func (e *Executor) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StepTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.StepTimeout)
	}
	return context.WithCancel(ctx)
}

// RunPlan executes plan under the project lock. The ledger is re-read once
// the lock is held and a plan that no longer fits it is rejected with
// ErrStalePlan. Steps run in order until one fails; the result always lists
// every step with its outcome, and the lock is released on every path.
// An empty up plan still checks drift.
func (e *Executor) RunPlan(ctx context.Context, plan resolver.Plan) (*RunResult, error) {
	result := newRunResult(e.opts.NewRunID(), plan)
	project := e.opts.ProjectID
	logger := e.logger(ctx).With(
		slog.String("run_id", result.RunID),
		slog.String("project", project),
		slog.String("direction", string(plan.Direction)),
	)

	if plan.Empty() {
		if plan.Direction != migration.Up || e.opts.DriftPolicy == DriftOff || e.opts.Catalog == nil {
			return result, nil
		}
		// Nothing to apply still reports drift; no lock is needed to read.
		entries, err := e.store.Applied(ctx)
		if err != nil {
			return result, err
		}
		return result, e.checkDrift(logger, entries, result)
	}
	if plan.Direction != migration.Up && plan.Direction != migration.Down {
		return result, fmt.Errorf("unknown direction %q", plan.Direction)
	}

	if err := e.store.AcquireLock(ctx, project); err != nil {
		if errors.Is(err, migration.ErrLockBusy) {
			e.opts.Metrics.LockBusyObserved(project)
		}
		logger.Warn("could not take project lock", slog.Any("error", err))
		e.opts.Metrics.ObserveRun(string(plan.Direction), migration.ErrorKind(err))
		return result, err
	}
	defer e.releaseLock(ctx, logger)

	err := e.run(ctx, logger, plan, result)
	outcome := "ok"
	if err != nil {
		outcome = migration.ErrorKind(err)
	}
	e.opts.Metrics.ObserveRun(string(plan.Direction), outcome)
	return result, err
}

func (e *Executor) logger(ctx context.Context) *slog.Logger {
	if e.opts.Logger != nil {
		return e.opts.Logger
	}
	return logging.FromContextOrDefault(ctx)
}

// checkDrift records drifted revisions in result and logs each one. Under
// DriftStrict it returns the drift errors joined.
func (e *Executor) checkDrift(logger *slog.Logger, entries []migration.Entry, result *RunResult) error {
	if e.opts.DriftPolicy == DriftOff || e.opts.Catalog == nil {
		return nil
	}
	result.Drift = CheckDrift(entries, e.opts.Catalog)
	e.opts.Metrics.DriftObserved(e.opts.ProjectID, len(result.Drift))
	for _, d := range result.Drift {
		logger.Warn("applied revision changed since it was applied",
			slog.String("revision", d.RevisionID),
			slog.String("recorded", d.Recorded),
			slog.String("current", d.Current))
	}
	if len(result.Drift) == 0 || e.opts.DriftPolicy != DriftStrict {
		return nil
	}
	errs := make([]error, len(result.Drift))
	for i, d := range result.Drift {
		errs[i] = d
	}
	return errors.Join(errs...)
}

func (e *Executor) releaseLock(ctx context.Context, logger *slog.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ReleaseTimeout)
	defer cancel()
	if err := e.store.ReleaseLock(releaseCtx, e.opts.ProjectID); err != nil {
		logger.Error("failed to release project lock", slog.Any("error", err))
	}
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, plan resolver.Plan, result *RunResult) error {
	entries, err := e.store.Applied(ctx)
	if err != nil {
		return err
	}
	if err := verifyPlan(plan, entries); err != nil {
		return err
	}

	if plan.Direction == migration.Up {
		if err := e.checkDrift(logger, entries, result); err != nil {
			return err
		}
	}

	logger.Info("starting run", slog.Int("steps", len(plan.Steps)), slog.String("plan", plan.String()))
	for i, rec := range plan.Steps {
		step := &result.Steps[i]
		stepLogger := logger.With(slog.String("revision", rec.RevisionID))

		start := e.opts.Now()
		var err error
		if plan.Direction == migration.Up {
			_, err = e.Apply(ctx, rec)
		} else {
			err = e.Revert(ctx, rec)
		}
		step.Duration = e.opts.Now().Sub(start)

		if err != nil {
			step.Status = StatusFailed
			step.Err = err
			e.opts.Metrics.ObserveStep(string(plan.Direction), string(StatusFailed), step.Duration)
			for _, rest := range result.Steps[i+1:] {
				e.opts.Metrics.ObserveStep(string(plan.Direction), string(rest.Status), 0)
			}
			stepLogger.Error("step failed, stopping run",
				slog.String("error_kind", migration.ErrorKind(err)),
				slog.Any("error", err),
				slog.Int("not_attempted", len(plan.Steps)-i-1))
			return err
		}

		step.Status = StatusApplied
		if plan.Direction == migration.Down {
			step.Status = StatusReverted
		}
		e.opts.Metrics.ObserveStep(string(plan.Direction), string(step.Status), step.Duration)
		stepLogger.Info("step completed", slog.String("status", string(step.Status)), slog.Duration("duration", step.Duration))
	}

	logger.Info("run completed", slog.Int("steps", len(plan.Steps)))
	return nil
}

// verifyPlan rejects a plan computed from a ledger state that no longer
// holds: an up step already applied or missing a parent, or a down step
// that is not applied.
func verifyPlan(plan resolver.Plan, entries []migration.Entry) error {
	applied := make(map[string]bool, len(entries))
	for _, e := range entries {
		applied[e.RevisionID] = true
	}

	stale := func(rev, detail string) error {
		err := migration.NewValidationError(migration.ErrStalePlan, rev)
		err.Detail = detail
		return err
	}

	for _, rec := range plan.Steps {
		switch plan.Direction {
		case migration.Up:
			if applied[rec.RevisionID] {
				return stale(rec.RevisionID, "already applied")
			}
			for _, parent := range rec.DownRevisions {
				if !applied[parent] {
					return stale(rec.RevisionID, "parent "+parent+" is not applied")
				}
			}
			applied[rec.RevisionID] = true
		case migration.Down:
			if !applied[rec.RevisionID] {
				return stale(rec.RevisionID, "not applied")
			}
			delete(applied, rec.RevisionID)
		}
	}
	return nil
}
