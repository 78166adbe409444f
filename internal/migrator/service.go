// Package migrator wires the migration loader, graph, resolver and executor
// into the operations a command line or service exposes.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/revmigrate/internal/executor"
	"github.com/example/revmigrate/internal/graph"
	"github.com/example/revmigrate/internal/ledger"
	"github.com/example/revmigrate/internal/lock"
	"github.com/example/revmigrate/internal/logging"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/resolver"
)

// ErrUnlockUnsupported indicates a lock backend whose locks vanish with the
// holder's session and cannot be broken from outside.
var ErrUnlockUnsupported = errors.New("lock backend does not support forced unlock")

// Options configures a Service.
type Options struct {
	MigrationDir string
	Executor     executor.Options // Catalog is filled in per run
	Breaker      lock.Breaker     // Used by Unlock; nil when unsupported
	Logger       *slog.Logger     // Nil uses the logger carried by each call's context
}

// Service runs migration operations for one project. Every call reloads the
// migration files, so a long-lived Service sees edits between calls.
type Service struct {
	store ledger.Store
	opts  Options
}

// New creates a Service over store.
func New(store ledger.Store, opts Options) *Service {
	if opts.Executor.Logger == nil {
		opts.Executor.Logger = opts.Logger
	}
	if opts.Executor.ProjectID == "" {
		opts.Executor.ProjectID = executor.DefaultProjectID
	}
	return &Service{store: store, opts: opts}
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	l := s.opts.Logger
	if l == nil {
		l = logging.FromContextOrDefault(ctx)
	}
	return l.With(slog.String("project", s.opts.Executor.ProjectID))
}

// Load scans the migration directory and builds the revision graph.
func (s *Service) Load(ctx context.Context) (*graph.Graph, error) {
	records, err := migration.Scan(s.opts.MigrationDir)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(records)
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Debug("loaded migrations",
		slog.String("dir", s.opts.MigrationDir),
		slog.Int("revisions", g.Len()),
		slog.Any("heads", g.Heads()))
	return g, nil
}

// snapshot loads the graph and the ledger state together.
func (s *Service) snapshot(ctx context.Context) (*graph.Graph, []migration.Entry, error) {
	g, err := s.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.Applied(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return g, entries, nil
}

func (s *Service) newExecutor(g *graph.Graph) *executor.Executor {
	opts := s.opts.Executor
	opts.Catalog = g
	return executor.New(s.store, opts)
}

// Plan computes the plan Up or Down would execute, without running it.
func (s *Service) Plan(ctx context.Context, dir migration.Direction, target resolver.Target, filter resolver.Filter) (resolver.Plan, error) {
	g, entries, err := s.snapshot(ctx)
	if err != nil {
		return resolver.Plan{Direction: dir}, err
	}
	return plan(g, entries, dir, target, filter)
}

func plan(g *graph.Graph, entries []migration.Entry, dir migration.Direction, target resolver.Target, filter resolver.Filter) (resolver.Plan, error) {
	r := resolver.New(g)
	state := resolver.StateFromEntries(entries)
	switch dir {
	case migration.Up:
		return r.PlanUp(state, target, filter)
	case migration.Down:
		return r.PlanDown(state, target, filter)
	}
	return resolver.Plan{Direction: dir}, fmt.Errorf("unknown direction %q", dir)
}

// Up applies pending revisions toward target.
func (s *Service) Up(ctx context.Context, target resolver.Target, filter resolver.Filter) (*executor.RunResult, error) {
	return s.run(ctx, migration.Up, target, filter)
}

// Down reverts applied revisions toward target.
func (s *Service) Down(ctx context.Context, target resolver.Target, filter resolver.Filter) (*executor.RunResult, error) {
	return s.run(ctx, migration.Down, target, filter)
}

// Reset reverts every applied revision.
func (s *Service) Reset(ctx context.Context) (*executor.RunResult, error) {
	return s.run(ctx, migration.Down, resolver.Base(), nil)
}

func (s *Service) run(ctx context.Context, dir migration.Direction, target resolver.Target, filter resolver.Filter) (*executor.RunResult, error) {
	g, entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	p, err := plan(g, entries, dir, target, filter)
	if err != nil {
		s.logger(ctx).Error("failed to plan migration",
			slog.String("direction", string(dir)),
			slog.String("target", target.String()),
			slog.String("error_kind", migration.ErrorKind(err)),
			slog.Any("error", err))
		return nil, err
	}
	if p.Empty() {
		s.logger(ctx).Info("nothing to do", slog.String("direction", string(dir)), slog.String("target", target.String()))
	}

	return s.newExecutor(g).RunPlan(ctx, p)
}

// Graph summarises the revision graph.
func (s *Service) Graph(ctx context.Context) (graph.Summary, error) {
	g, err := s.Load(ctx)
	if err != nil {
		return graph.Summary{}, err
	}
	return graph.NewInspector(g).Summary(), nil
}

// Browse returns the records accepted by filter in topological order.
func (s *Service) Browse(ctx context.Context, filter resolver.Filter) ([]migration.Record, error) {
	g, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return graph.NewInspector(g).Filter(filter.Allows), nil
}

// Check validates the migration files, the ledger against the graph and the
// content of applied revisions. Drift always fails the check.
func (s *Service) Check(ctx context.Context) error {
	g, entries, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := resolver.New(g).Check(resolver.StateFromEntries(entries)); err != nil {
		return err
	}

	drift := executor.CheckDrift(entries, g)
	if len(drift) == 0 {
		s.logger(ctx).Info("migrations are consistent", slog.Int("revisions", g.Len()), slog.Int("applied", len(entries)))
		return nil
	}
	errs := make([]error, len(drift))
	for i, d := range drift {
		errs[i] = d
	}
	return errors.Join(errs...)
}

// Unlock forcibly releases the project lock left by a crashed run. It
// reports whether a lock was removed.
func (s *Service) Unlock(ctx context.Context) (bool, error) {
	if s.opts.Breaker == nil {
		return false, ErrUnlockUnsupported
	}
	broken, err := s.opts.Breaker.Break(ctx, s.opts.Executor.ProjectID)
	if err != nil {
		return false, fmt.Errorf("failed to break lock: %w", err)
	}
	if broken {
		s.logger(ctx).Warn("project lock broken")
	}
	return broken, nil
}
