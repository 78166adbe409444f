// Package sqlledger implements the ledger over database/sql for SQLite,
// PostgreSQL and MySQL. Each revision step runs in one database transaction
// that carries both the script and the ledger row.
//
// MySQL commits implicitly around DDL statements, so on MySQL only DML
// scripts get all-or-nothing behaviour.
package sqlledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/revmigrate/internal/database"
	"github.com/example/revmigrate/internal/ledger"
	"github.com/example/revmigrate/internal/lock"
	"github.com/example/revmigrate/internal/migration"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "wd_migrations"

// appliedAtLayout is fixed width so that the text column sorts
// chronologically on every backend.
const appliedAtLayout = "2006-01-02T15:04:05.000000000Z"

// Config configures a Store.
type Config struct {
	Dialect database.Dialect
	Table   string      // Ledger table; DefaultTable when empty
	Locker  lock.Locker // Project lock; DefaultLocker when nil
	Logger  *slog.Logger
}

// Store implements ledger.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
	locker  lock.Locker
	logger  *slog.Logger

	mu   sync.Mutex
	held map[string]lock.Handle
}

var _ ledger.Store = (*Store)(nil)

// New creates a store. Call Init before first use.
func New(db *sql.DB, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if err := database.ValidateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("ledger table: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locker == nil {
		cfg.Locker, err = DefaultLocker(db, cfg.Dialect, cfg.Table)
		if err != nil {
			return nil, err
		}
	}

	return &Store{
		db:      db,
		dialect: d,
		table:   cfg.Table,
		locker:  cfg.Locker,
		logger:  cfg.Logger,
		held:    make(map[string]lock.Handle),
	}, nil
}

// DefaultLocker returns the lock native to the dialect: advisory locks on
// PostgreSQL, GET_LOCK on MySQL and a <table>_lock table on SQLite.
func DefaultLocker(db *sql.DB, d database.Dialect, table string) (lock.Locker, error) {
	switch d {
	case database.Postgres:
		return lock.NewPostgres(db), nil
	case database.MySQL:
		return lock.NewMySQL(db), nil
	case database.SQLite:
		return lock.NewTable(db, table+"_lock")
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

// Table returns the ledger table name.
func (s *Store) Table() string {
	return s.table
}

// Locker returns the locker guarding runs.
func (s *Store) Locker() lock.Locker {
	return s.locker
}

// Init creates the ledger table, and the lock table when the locker needs
// one. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	query := fmt.Sprintf(s.dialect.createTable, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return migration.NewDatabaseError("create ledger table", query, err)
	}

	if initer, ok := s.locker.(interface{ Init(context.Context) error }); ok {
		if err := initer.Init(ctx); err != nil {
			return migration.NewDatabaseError("create lock table", "", err)
		}
	}
	return nil
}

// Applied implements ledger.Store.
func (s *Store) Applied(ctx context.Context) ([]migration.Entry, error) {
	query := fmt.Sprintf(
		`SELECT revision_id, applied_at, checksum, duration_ms FROM %s ORDER BY applied_at ASC, revision_id ASC`,
		s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, migration.NewDatabaseError("read ledger", query, err)
	}
	defer rows.Close()

	var entries []migration.Entry
	for rows.Next() {
		var (
			entry      migration.Entry
			appliedAt  string
			durationMs int64
		)
		if err := rows.Scan(&entry.RevisionID, &appliedAt, &entry.Checksum, &durationMs); err != nil {
			return nil, migration.NewDatabaseError("scan ledger entry", query, err)
		}
		entry.AppliedAt, err = time.Parse(appliedAtLayout, appliedAt)
		if err != nil {
			return nil, migration.NewDatabaseError("parse applied_at of "+entry.RevisionID, query, err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, migration.NewDatabaseError("iterate ledger", query, err)
	}
	return entries, nil
}

// WithTransaction implements ledger.Store. A panic in fn rolls back and is
// re-raised.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rollback after panic failed", slog.Any("error", rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, &sqlTx{tx: tx, store: s}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AcquireLock implements ledger.Store.
func (s *Store) AcquireLock(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[projectID]; ok {
		return &migration.LockBusyError{ProjectID: projectID}
	}

	h, err := s.locker.TryAcquire(ctx, projectID)
	if errors.Is(err, lock.ErrBusy) {
		return &migration.LockBusyError{ProjectID: projectID}
	}
	if err != nil {
		return migration.NewDatabaseError("acquire lock", "", err)
	}
	s.held[projectID] = h
	return nil
}

// ReleaseLock implements ledger.Store.
func (s *Store) ReleaseLock(ctx context.Context, projectID string) error {
	s.mu.Lock()
	h, ok := s.held[projectID]
	delete(s.held, projectID)
	s.mu.Unlock()

	if !ok {
		return ledger.ErrLockNotHeld
	}
	if err := h.Release(ctx); err != nil {
		return migration.NewDatabaseError("release lock", "", err)
	}
	return nil
}

type sqlTx struct {
	tx    *sql.Tx
	store *Store
}

// Exec runs each statement of script in order.
func (t *sqlTx) Exec(ctx context.Context, script string) error {
	for i, stmt := range SplitStatements(script, t.store.dialect.name) {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *sqlTx) Record(ctx context.Context, entry migration.Entry) error {
	ph := t.store.dialect.placeholder

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE revision_id = %s`, t.store.table, ph(1))
	var n int
	if err := t.tx.QueryRowContext(ctx, query, entry.RevisionID).Scan(&n); err != nil {
		return migration.NewDatabaseError("check ledger entry", query, err)
	}
	if n > 0 {
		return fmt.Errorf("%s: %w", entry.RevisionID, ledger.ErrAlreadyApplied)
	}

	query = fmt.Sprintf(
		`INSERT INTO %s (revision_id, applied_at, checksum, duration_ms) VALUES (%s, %s, %s, %s)`,
		t.store.table, ph(1), ph(2), ph(3), ph(4))
	_, err := t.tx.ExecContext(ctx, query,
		entry.RevisionID,
		entry.AppliedAt.UTC().Format(appliedAtLayout),
		entry.Checksum,
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return migration.NewDatabaseError("insert ledger entry", query, err)
	}
	return nil
}

func (t *sqlTx) Remove(ctx context.Context, revisionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE revision_id = %s`, t.store.table, t.store.dialect.placeholder(1))
	res, err := t.tx.ExecContext(ctx, query, revisionID)
	if err != nil {
		return migration.NewDatabaseError("delete ledger entry", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return migration.NewDatabaseError("delete ledger entry", query, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", revisionID, ledger.ErrNotApplied)
	}
	return nil
}
