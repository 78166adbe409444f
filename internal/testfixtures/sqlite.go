package testfixtures

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/revmigrate/internal/database"
	"github.com/example/revmigrate/internal/ledger/sqlledger"
)

// SQLiteHarness provides a ledger store backed by a temporary SQLite file,
// plus an empty migration directory, for integration-style tests.
type SQLiteHarness struct {
	DB           *sql.DB
	Store        *sqlledger.Store
	DSN          string
	MigrationDir string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// TableExists reports whether the harness database has a table named name.
func (h *SQLiteHarness) TableExists(tb testing.TB, name string) bool {
	tb.Helper()
	var n int
	err := h.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		tb.Fatalf("failed to inspect sqlite_master: %v", err)
	}
	return n > 0
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file whose
// ledger table is initialised automatically. Callers may optionally invoke
// Close, but the helper will also register a cleanup callback with the
// provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dir := tb.TempDir()
	dsn := "sqlite://" + filepath.Join(dir, "ledger.db")
	migrationDir := filepath.Join(dir, "migrations")
	if err := os.Mkdir(migrationDir, 0o755); err != nil {
		tb.Fatalf("failed to create migration dir: %v", err)
	}

	db, dialect, err := database.Open(context.Background(), dsn, database.DefaultOptions())
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}

	store, err := sqlledger.New(db, sqlledger.Config{Dialect: dialect})
	if err != nil {
		_ = db.Close()
		tb.Fatalf("failed to create ledger store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		_ = db.Close()
		tb.Fatalf("failed to initialise ledger: %v", err)
	}

	harness := &SQLiteHarness{
		DB:           db,
		Store:        store,
		DSN:          dsn,
		MigrationDir: migrationDir,
		cleanup: func() {
			_ = db.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
