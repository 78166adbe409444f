package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/revmigrate/internal/database"
)

var envKeys = []string{
	"REVMIGRATE_DSN",
	"REVMIGRATE_MIGRATION_DIR",
	"REVMIGRATE_MIGRATION_TABLE",
	"REVMIGRATE_PROJECT_ID",
	"REVMIGRATE_LOCK_BACKEND",
	"REVMIGRATE_REDIS_URL",
	"REVMIGRATE_STEP_TIMEOUT",
	"REVMIGRATE_DRIFT",
	"REVMIGRATE_LOG_LEVEL",
	"REVMIGRATE_LOG_FORMAT",
}

// clearEnv blanks every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".wd.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REVMIGRATE_DSN", "sqlite://app.db")
		t.Setenv("REVMIGRATE_MIGRATION_DIR", "migrations")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.MigrationTable != "wd_migrations" {
			t.Fatalf("expected default table wd_migrations, got %q", cfg.MigrationTable)
		}
		if cfg.ProjectID != "default" {
			t.Fatalf("unexpected default project id: %q", cfg.ProjectID)
		}
		if cfg.LockBackend != LockNative || cfg.Drift != "warn" || cfg.LogFormat != "text" {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		dialect, err := cfg.Dialect()
		if err != nil || dialect != database.SQLite {
			t.Fatalf("expected sqlite dialect, got %q (%v)", dialect, err)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := Load("")
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required settings are missing: dsn (REVMIGRATE_DSN), migration_dir (REVMIGRATE_MIGRATION_DIR)"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REVMIGRATE_DSN", "postgres://localhost/app")
		t.Setenv("REVMIGRATE_MIGRATION_DIR", "/srv/migrations")
		t.Setenv("REVMIGRATE_STEP_TIMEOUT", "90s")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.StepTimeout != 90*time.Second {
			t.Fatalf("expected step timeout 90s, got %s", cfg.StepTimeout)
		}
	})

	t.Run("reports invalid values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REVMIGRATE_DSN", "sqlite://app.db")
		t.Setenv("REVMIGRATE_MIGRATION_DIR", "migrations")
		t.Setenv("REVMIGRATE_STEP_TIMEOUT", "soon")
		t.Setenv("REVMIGRATE_DRIFT", "loud")
		t.Setenv("REVMIGRATE_LOCK_BACKEND", "redis")

		_, err := Load("")
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "invalid settings: REVMIGRATE_STEP_TIMEOUT, redis_url, drift"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})
}

func TestLoader_ProjectFile(t *testing.T) {

	t.Run("reads the file and resolves the migration dir", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, `{
			"dsn": "mysql://root@db/app",
			"migration_dir": "migrations",
			"migration_table": "schema_ledger",
			"file_format": "{version}-{slug}",
			"step_timeout": "2m",
			"lock_backend": "redis",
			"redis_url": "redis://cache:6379/0"
		}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if want := filepath.Join(filepath.Dir(path), "migrations"); cfg.MigrationDir != want {
			t.Fatalf("expected migration dir %q, got %q", want, cfg.MigrationDir)
		}
		if cfg.MigrationTable != "schema_ledger" || cfg.StepTimeout != 2*time.Minute || cfg.LockBackend != LockRedis {
			t.Fatalf("file values not applied: %+v", cfg)
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, `{"dsn": "sqlite://file.db", "migration_dir": "/abs/migrations"}`)
		t.Setenv("REVMIGRATE_DSN", "sqlite://env.db")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.DSN != "sqlite://env.db" {
			t.Fatalf("expected env DSN, got %q", cfg.DSN)
		}
		if cfg.MigrationDir != "/abs/migrations" {
			t.Fatalf("expected absolute dir to be kept, got %q", cfg.MigrationDir)
		}
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(writeFile(t, `{"dsn": `)); err == nil {
			t.Fatalf("expected error for malformed file")
		}
	})
}
