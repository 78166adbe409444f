package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/revmigrate/internal/database"
)

// Table emulates an advisory lock with a row per key, for backends without a
// native primitive such as SQLite. A crashed holder leaves its row behind;
// Break removes it.
type Table struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewTable creates a table locker. The table is created by Init.
func NewTable(db *sql.DB, table string) (*Table, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &Table{db: db, table: table, now: time.Now}, nil
}

// Init creates the lock table if needed.
func (l *Table) Init(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	)`, l.table)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create lock table %s: %w", l.table, err)
	}
	return nil
}

// TryAcquire implements Locker by inserting the key row.
func (l *Table) TryAcquire(ctx context.Context, key string) (Handle, error) {
	owner := uuid.NewString()
	query := fmt.Sprintf(
		`INSERT INTO %s (project_id, owner, acquired_at) VALUES (?, ?, ?) ON CONFLICT (project_id) DO NOTHING`,
		l.table)

	res, err := l.db.ExecContext(ctx, query, key, owner, l.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if n == 0 {
		return nil, ErrBusy
	}

	return newHandle(func(ctx context.Context) error {
		query := fmt.Sprintf(`DELETE FROM %s WHERE project_id = ? AND owner = ?`, l.table)
		res, err := l.db.ExecContext(ctx, query, key, owner)
		if err != nil {
			return fmt.Errorf("release lock for %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("release lock for %s: lock was broken by another process", key)
		}
		return nil
	}), nil
}

// Holder describes the current owner of a key, if any.
func (l *Table) Holder(ctx context.Context, key string) (owner string, since time.Time, held bool, err error) {
	query := fmt.Sprintf(`SELECT owner, acquired_at FROM %s WHERE project_id = ?`, l.table)
	var acquiredAt string
	err = l.db.QueryRowContext(ctx, query, key).Scan(&owner, &acquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read lock holder for %s: %w", key, err)
	}
	since, _ = time.Parse(time.RFC3339Nano, acquiredAt)
	return owner, since, true, nil
}

// Break deletes the key row regardless of owner. It reports whether a row
// was removed.
func (l *Table) Break(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE project_id = ?`, l.table)
	res, err := l.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("break lock for %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("break lock for %s: %w", key, err)
	}
	return n > 0, nil
}
