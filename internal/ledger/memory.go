package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/example/revmigrate/internal/migration"
)

// ScriptRunner executes script text for the in-memory store. Returning an
// error fails the enclosing transaction.
type ScriptRunner func(ctx context.Context, script string) error

// Memory is a Store kept in process memory. Transactions are serialized and
// buffered until commit. Scripts are handed to the runner when executed; the
// log returned by Executed only contains scripts of committed transactions.
type Memory struct {
	runner ScriptRunner

	txMu sync.Mutex // one transaction at a time

	mu       sync.Mutex
	entries  []migration.Entry
	executed []string
	locks    map[string]struct{}
}

// NewMemory creates an empty in-memory store. A nil runner accepts every
// script.
func NewMemory(runner ScriptRunner) *Memory {
	return &Memory{
		runner: runner,
		locks:  make(map[string]struct{}),
	}
}

// Seed appends entries as if they had been applied. It is meant for tests.
func (m *Memory) Seed(entries ...migration.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
}

// Executed returns the scripts of committed transactions in order.
func (m *Memory) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.executed)
}

// Applied implements Store.
func (m *Memory) Applied(ctx context.Context) ([]migration.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), nil
}

// WithTransaction implements Store.
func (m *Memory) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	tx := &memoryTx{
		store:   m,
		entries: slices.Clone(m.entries),
	}
	m.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries = tx.entries
	m.executed = append(m.executed, tx.scripts...)
	m.mu.Unlock()
	return nil
}

// AcquireLock implements Store.
func (m *Memory) AcquireLock(ctx context.Context, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[projectID]; held {
		return &migration.LockBusyError{ProjectID: projectID}
	}
	m.locks[projectID] = struct{}{}
	return nil
}

// ReleaseLock implements Store.
func (m *Memory) ReleaseLock(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[projectID]; !held {
		return fmt.Errorf("release %s: %w", projectID, ErrLockNotHeld)
	}
	delete(m.locks, projectID)
	return nil
}

type memoryTx struct {
	store   *Memory
	entries []migration.Entry
	scripts []string
}

func (tx *memoryTx) Exec(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.store.runner != nil {
		if err := tx.store.runner(ctx, script); err != nil {
			return err
		}
	}
	tx.scripts = append(tx.scripts, script)
	return nil
}

func (tx *memoryTx) Record(_ context.Context, entry migration.Entry) error {
	if slices.ContainsFunc(tx.entries, func(e migration.Entry) bool { return e.RevisionID == entry.RevisionID }) {
		return fmt.Errorf("record %s: %w", entry.RevisionID, ErrAlreadyApplied)
	}
	tx.entries = append(tx.entries, entry)
	return nil
}

func (tx *memoryTx) Remove(_ context.Context, revisionID string) error {
	i := slices.IndexFunc(tx.entries, func(e migration.Entry) bool { return e.RevisionID == revisionID })
	if i < 0 {
		return fmt.Errorf("remove %s: %w", revisionID, ErrNotApplied)
	}
	tx.entries = slices.Delete(tx.entries, i, i+1)
	return nil
}
