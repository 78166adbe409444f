package executor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/revmigrate/internal/executor"
	"github.com/example/revmigrate/internal/graph"
	"github.com/example/revmigrate/internal/ledger"
	"github.com/example/revmigrate/internal/logging"
	"github.com/example/revmigrate/internal/metrics"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/resolver"
	"github.com/example/revmigrate/internal/testfixtures"
)

var errScript = errors.New("syntax error near FAIL")

// failingRunner rejects every script that mentions FAIL.
func failingRunner(_ context.Context, script string) error {
	if strings.Contains(script, "FAIL") {
		return errScript
	}
	return nil
}

func appliedIDs(t *testing.T, store ledger.Store) []string {
	t.Helper()
	entries, err := store.Applied(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RevisionID
	}
	return ids
}

func upPlan(records ...migration.Record) resolver.Plan {
	return resolver.Plan{Direction: migration.Up, Steps: records}
}

func TestRunPlan_StopsAtFirstFailure(t *testing.T) {
	store := ledger.NewMemory(failingRunner)
	recorder := metrics.NewRecorder()
	exec := executor.New(store, executor.Options{Metrics: recorder})

	m1 := testfixtures.NewRecord("M1")
	m2 := testfixtures.NewRecord("M2", testfixtures.WithParents("M1"), testfixtures.WithScripts("FAIL;", "SELECT 1;"))
	m3 := testfixtures.NewRecord("M3", testfixtures.WithParents("M2"))

	result, err := exec.RunPlan(context.Background(), upPlan(m1, m2, m3))
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrExecutionFailed)
	assert.ErrorIs(t, err, errScript)

	var execErr *migration.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "M2", execErr.RevisionID)
	assert.Equal(t, migration.Up, execErr.Direction)

	assert.Equal(t, []executor.StepStatus{
		executor.StatusApplied,
		executor.StatusFailed,
		executor.StatusNotAttempted,
	}, result.Statuses())
	failed, ok := result.Failed()
	require.True(t, ok)
	assert.Equal(t, "M2", failed.RevisionID)
	assert.Equal(t, []string{"M1"}, result.Completed())
	assert.Equal(t, "up M1:applied M2:failed M3:not_attempted", result.String())

	assert.Equal(t, []string{"M1"}, appliedIDs(t, store))
	assert.Equal(t, []string{m1.UpScript}, store.Executed())

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.Steps.WithLabelValues("up", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.Steps.WithLabelValues("up", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.Steps.WithLabelValues("up", "not_attempted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.Runs.WithLabelValues("up", "execution")))

	// The lock is released even though the run failed.
	require.NoError(t, store.AcquireLock(context.Background(), executor.DefaultProjectID))
}

func TestApplyRevert_RestoresLedger(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory(nil)
	clock := testfixtures.NewSteppingClock(time.Time{}, 250*time.Millisecond)
	exec := executor.New(store, executor.Options{Now: clock.NowFunc()})

	a := testfixtures.NewRecord("A")
	b := testfixtures.NewRecord("B", testfixtures.WithParents("A"))
	store.Seed(migration.Entry{RevisionID: "A", AppliedAt: testfixtures.ReferenceTime(), Checksum: a.Checksum()})

	before, err := store.Applied(ctx)
	require.NoError(t, err)

	entry, err := exec.Apply(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "B", entry.RevisionID)
	assert.Equal(t, b.Checksum(), entry.Checksum)
	assert.True(t, testfixtures.ReferenceTime().Add(250*time.Millisecond).Equal(entry.AppliedAt))
	assert.Equal(t, 250*time.Millisecond, entry.Duration)
	assert.Equal(t, []string{"A", "B"}, appliedIDs(t, store))

	require.NoError(t, exec.Revert(ctx, b))
	after, err := store.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{b.UpScript, b.DownScript}, store.Executed())
}

func TestRevert_NotAppliedFails(t *testing.T) {
	exec := executor.New(ledger.NewMemory(nil), executor.Options{})

	err := exec.Revert(context.Background(), testfixtures.NewRecord("X"))
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrExecutionFailed)
	assert.ErrorIs(t, err, ledger.ErrNotApplied)
}

func TestRunPlan_Down(t *testing.T) {
	store := ledger.NewMemory(nil)
	records := testfixtures.Chain("A", "B", "C")
	for _, rec := range records {
		store.Seed(migration.Entry{RevisionID: rec.RevisionID, Checksum: rec.Checksum()})
	}
	ids := testfixtures.NewRunIDs("")
	exec := executor.New(store, executor.Options{NewRunID: ids.Next})

	plan := resolver.Plan{Direction: migration.Down, Steps: []migration.Record{records[2], records[1]}}
	result, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, ids.Last(), result.RunID)
	assert.Equal(t, "down C:reverted B:reverted", result.String())
	assert.Equal(t, []executor.StepStatus{executor.StatusReverted, executor.StatusReverted}, result.Statuses())
	assert.Equal(t, []string{"A"}, appliedIDs(t, store))
}

func TestRunPlan_EmptyPlan(t *testing.T) {
	exec := executor.New(ledger.NewMemory(nil), executor.Options{})
	result, err := exec.RunPlan(context.Background(), resolver.Plan{Direction: migration.Up})
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
	assert.NotEmpty(t, result.RunID)
}

func TestRunPlan_ConcurrentRunsOnOneProject(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	store := ledger.NewMemory(func(ctx context.Context, script string) error {
		once.Do(func() { close(started) })
		select {
		case <-proceed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	records := testfixtures.Chain("A", "B")
	first := executor.New(store, executor.Options{ProjectID: "shop"})
	second := executor.New(store, executor.Options{ProjectID: "shop"})

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = first.RunPlan(context.Background(), upPlan(records...))
	}()

	<-started
	result, err := second.RunPlan(context.Background(), upPlan(records...))
	var busy *migration.LockBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "shop", busy.ProjectID)
	assert.Equal(t, []executor.StepStatus{executor.StatusNotAttempted, executor.StatusNotAttempted}, result.Statuses())

	close(proceed)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, []string{"A", "B"}, appliedIDs(t, store))
}

func TestRunPlan_RejectsStalePlan(t *testing.T) {
	store := ledger.NewMemory(nil)
	records := testfixtures.Chain("A", "B")
	exec := executor.New(store, executor.Options{})

	// Another run applied A after the plan was computed.
	store.Seed(migration.Entry{RevisionID: "A", Checksum: records[0].Checksum()})

	_, err := exec.RunPlan(context.Background(), upPlan(records...))
	require.ErrorIs(t, err, migration.ErrStalePlan)
	assert.Empty(t, store.Executed())

	_, err = exec.RunPlan(context.Background(), upPlan(testfixtures.NewRecord("C", testfixtures.WithParents("B"))))
	require.ErrorIs(t, err, migration.ErrStalePlan)

	_, err = exec.RunPlan(context.Background(), resolver.Plan{Direction: migration.Down, Steps: records[1:]})
	require.ErrorIs(t, err, migration.ErrStalePlan)
}

func TestRunPlan_Drift(t *testing.T) {
	records := testfixtures.Chain("A", "B")
	g, err := graph.Build(records)
	require.NoError(t, err)

	seed := func() *ledger.Memory {
		store := ledger.NewMemory(nil)
		store.Seed(migration.Entry{RevisionID: "A", Checksum: "edited-since"})
		return store
	}

	t.Run("strict aborts before any step", func(t *testing.T) {
		store := seed()
		recorder := metrics.NewRecorder()
		exec := executor.New(store, executor.Options{DriftPolicy: executor.DriftStrict, Catalog: g, Metrics: recorder})

		result, err := exec.RunPlan(context.Background(), upPlan(records[1]))
		require.ErrorIs(t, err, migration.ErrDriftDetected)
		var drift *migration.DriftError
		require.ErrorAs(t, err, &drift)
		assert.Equal(t, "A", drift.RevisionID)
		assert.Len(t, result.Drift, 1)
		assert.Empty(t, store.Executed())
		assert.Equal(t, 1.0, testutil.ToFloat64(recorder.Drift.WithLabelValues(executor.DefaultProjectID)))
	})

	t.Run("warn continues", func(t *testing.T) {
		store := seed()
		exec := executor.New(store, executor.Options{DriftPolicy: executor.DriftWarn, Catalog: g})

		result, err := exec.RunPlan(context.Background(), upPlan(records[1]))
		require.NoError(t, err)
		assert.Len(t, result.Drift, 1)
		assert.Equal(t, []string{"A", "B"}, appliedIDs(t, store))
	})

	t.Run("off skips the check", func(t *testing.T) {
		store := seed()
		exec := executor.New(store, executor.Options{DriftPolicy: executor.DriftOff, Catalog: g})

		result, err := exec.RunPlan(context.Background(), upPlan(records[1]))
		require.NoError(t, err)
		assert.Empty(t, result.Drift)
	})
}

func TestRunPlan_DriftWithNothingPending(t *testing.T) {
	records := testfixtures.Chain("A", "B")
	g, err := graph.Build(records)
	require.NoError(t, err)

	seed := func() *ledger.Memory {
		store := ledger.NewMemory(nil)
		store.Seed(migration.Entry{RevisionID: "A", Checksum: "edited-since"})
		store.Seed(migration.Entry{RevisionID: "B", Checksum: records[1].Checksum()})
		return store
	}
	nothing := resolver.Plan{Direction: migration.Up}

	t.Run("strict fails without taking the lock", func(t *testing.T) {
		store := seed()
		// A held lock proves the check only reads the ledger.
		require.NoError(t, store.AcquireLock(context.Background(), executor.DefaultProjectID))
		exec := executor.New(store, executor.Options{DriftPolicy: executor.DriftStrict, Catalog: g})

		result, err := exec.RunPlan(context.Background(), nothing)
		require.ErrorIs(t, err, migration.ErrDriftDetected)
		assert.Equal(t, migration.ExitDrift, migration.ExitCode(err))
		var drift *migration.DriftError
		require.ErrorAs(t, err, &drift)
		assert.Equal(t, "A", drift.RevisionID)
		assert.Empty(t, result.Steps)
	})

	t.Run("warn names the revision", func(t *testing.T) {
		exec := executor.New(seed(), executor.Options{DriftPolicy: executor.DriftWarn, Catalog: g})

		result, err := exec.RunPlan(context.Background(), nothing)
		require.NoError(t, err)
		require.Len(t, result.Drift, 1)
		assert.Contains(t, result.Drift[0].Error(), "revision A")
	})

	t.Run("down stays quiet", func(t *testing.T) {
		exec := executor.New(seed(), executor.Options{DriftPolicy: executor.DriftStrict, Catalog: g})

		result, err := exec.RunPlan(context.Background(), resolver.Plan{Direction: migration.Down})
		require.NoError(t, err)
		assert.Empty(t, result.Drift)
	})
}

func TestRunPlan_UsesContextLogger(t *testing.T) {
	records := testfixtures.Chain("A", "B")
	g, err := graph.Build(records)
	require.NoError(t, err)
	store := ledger.NewMemory(nil)
	store.Seed(migration.Entry{RevisionID: "A", Checksum: "edited-since"})

	var buf bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), logging.New("debug", "json", &buf))
	ids := testfixtures.NewRunIDs("ctx")
	exec := executor.New(store, executor.Options{Catalog: g, NewRunID: ids.Next})

	_, err = exec.RunPlan(ctx, upPlan(records[1]))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"run_id":"ctx-1"`)
	assert.Contains(t, out, "applied revision changed since it was applied")
	assert.Contains(t, out, `"revision":"A"`)
	assert.Contains(t, out, "run completed")
}

func TestRunPlan_OptionsLoggerWins(t *testing.T) {
	var fromCtx, fromOpts bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), logging.New("debug", "json", &fromCtx))
	exec := executor.New(ledger.NewMemory(nil), executor.Options{
		Logger: slog.New(slog.NewJSONHandler(&fromOpts, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	_, err := exec.RunPlan(ctx, upPlan(testfixtures.NewRecord("A")))
	require.NoError(t, err)
	assert.Contains(t, fromOpts.String(), "run completed")
	assert.Empty(t, fromCtx.String())
}

func TestRunPlan_StepTimeout(t *testing.T) {
	store := ledger.NewMemory(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	exec := executor.New(store, executor.Options{StepTimeout: 20 * time.Millisecond})

	result, err := exec.RunPlan(context.Background(), upPlan(testfixtures.Chain("A", "B")...))
	require.ErrorIs(t, err, migration.ErrExecutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []executor.StepStatus{executor.StatusFailed, executor.StatusNotAttempted}, result.Statuses())
	assert.Empty(t, appliedIDs(t, store))
}

func TestRunPlan_CancelledRunStillReleasesLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := ledger.NewMemory(func(context.Context, string) error {
		cancel()
		return context.Canceled
	})
	exec := executor.New(store, executor.Options{ProjectID: "p"})

	_, err := exec.RunPlan(ctx, upPlan(testfixtures.NewRecord("A")))
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.AcquireLock(context.Background(), "p"))
}

func TestCheckDrift(t *testing.T) {
	records := testfixtures.Chain("A", "B")
	g, err := graph.Build(records)
	require.NoError(t, err)

	entries := []migration.Entry{
		{RevisionID: "A", Checksum: records[0].Checksum()},
		{RevisionID: "B", Checksum: "stale"},
		{RevisionID: "ghost", Checksum: "x"},
	}
	drift := executor.CheckDrift(entries, g)
	require.Len(t, drift, 1)
	assert.Equal(t, "B", drift[0].RevisionID)
	assert.Equal(t, records[1].Checksum(), drift[0].Current)
	assert.Contains(t, drift[0].Error(), "revision B")
}

func TestParseDriftPolicy(t *testing.T) {
	for in, want := range map[string]executor.DriftPolicy{
		"off":    executor.DriftOff,
		" Warn ": executor.DriftWarn,
		"STRICT": executor.DriftStrict,
	} {
		got, err := executor.ParseDriftPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := executor.ParseDriftPolicy("loud")
	assert.Error(t, err)
}

func TestRunPlan_SQLiteEndToEnd(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	exec := executor.New(h.Store, executor.Options{})

	a := testfixtures.NewRecord("sql_a")
	b := testfixtures.NewRecord("sql_b", testfixtures.WithParents("sql_a"),
		testfixtures.WithScripts("CREATE TABLE t_sql_b (id INTEGER); INSERT INTO missing VALUES (1);", "DROP TABLE t_sql_b;"))

	result, err := exec.RunPlan(ctx, upPlan(a, b))
	require.ErrorIs(t, err, migration.ErrExecutionFailed)
	assert.Equal(t, []string{"sql_a"}, result.Completed())
	assert.True(t, h.TableExists(t, "t_sql_a"))
	assert.False(t, h.TableExists(t, "t_sql_b"), "failed step rolled back")
	assert.Equal(t, []string{"sql_a"}, appliedIDs(t, h.Store))

	_, err = exec.RunPlan(ctx, resolver.Plan{Direction: migration.Down, Steps: []migration.Record{a}})
	require.NoError(t, err)
	assert.False(t, h.TableExists(t, "t_sql_a"))
	assert.Empty(t, appliedIDs(t, h.Store))
}
