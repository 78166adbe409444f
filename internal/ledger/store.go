// Package ledger defines the persistence contract for applied revisions and
// the project lock, plus an in-memory implementation.
package ledger

import (
	"context"
	"errors"

	"github.com/example/revmigrate/internal/migration"
)

var (
	// ErrAlreadyApplied indicates a ledger entry that already exists
	ErrAlreadyApplied = errors.New("revision already recorded in ledger")

	// ErrNotApplied indicates removal of a ledger entry that does not exist
	ErrNotApplied = errors.New("revision not recorded in ledger")

	// ErrLockNotHeld indicates a release of a lock this store does not hold
	ErrLockNotHeld = errors.New("lock not held")
)

// Store persists which revisions are applied and serializes runs with a
// named advisory lock.
type Store interface {
	// Applied returns the ledger entries in application order.
	Applied(ctx context.Context) ([]migration.Entry, error)

	// WithTransaction runs fn in one backend transaction. Script execution and
	// ledger changes made through tx commit together when fn returns nil and
	// are rolled back entirely otherwise, including on context cancellation.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// AcquireLock takes the project lock without waiting. A lock held by
	// another run yields a *migration.LockBusyError.
	AcquireLock(ctx context.Context, projectID string) error

	// ReleaseLock releases a lock taken by AcquireLock.
	ReleaseLock(ctx context.Context, projectID string) error
}

// Tx is the unit of work handed to WithTransaction.
type Tx interface {
	// Exec runs script text against the backend.
	Exec(ctx context.Context, script string) error

	// Record adds a ledger entry; ErrAlreadyApplied if present.
	Record(ctx context.Context, entry migration.Entry) error

	// Remove deletes a ledger entry; ErrNotApplied if absent.
	Remove(ctx context.Context, revisionID string) error
}
