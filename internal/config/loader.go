package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/revmigrate/internal/database"
)

// DefaultFile is the project file looked up in the working directory.
const DefaultFile = ".wd.json"

// Lock backends.
const (
	LockNative = "native" // the database's own advisory lock
	LockRedis  = "redis"
)

// Config captures the settings of one migration project.
type Config struct {
	DSN            string
	MigrationDir   string
	MigrationTable string
	ProjectID      string
	LockBackend    string
	RedisURL       string
	StepTimeout    time.Duration
	Drift          string
	LogLevel       string
	LogFormat      string
}

// fileConfig mirrors the JSON project file. Unknown keys are ignored so
// files written by other tools still load.
type fileConfig struct {
	DSN            string `json:"dsn"`
	MigrationDir   string `json:"migration_dir"`
	MigrationTable string `json:"migration_table"`
	ProjectID      string `json:"project_id"`
	LockBackend    string `json:"lock_backend"`
	RedisURL       string `json:"redis_url"`
	StepTimeout    string `json:"step_timeout"`
	Drift          string `json:"drift"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		MigrationTable: "wd_migrations",
		ProjectID:      "default",
		LockBackend:    LockNative,
		Drift:          "warn",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Dialect derives the database dialect from the DSN scheme.
func (c Config) Dialect() (database.Dialect, error) {
	return database.DialectFromDSN(c.DSN)
}

// Load builds the configuration from defaults, then the project file at
// path, then REVMIGRATE_* environment variables.
//
// A missing file is only an error when path is not DefaultFile. Relative
// migration directories in the file are resolved against the file's
// directory.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			if !(errors.Is(err, fs.ErrNotExist) && path == DefaultFile) {
				return Config{}, err
			}
		}
	}

	invalid := applyEnv(&cfg)

	missing := make([]string, 0, 2)
	if cfg.DSN == "" {
		missing = append(missing, "dsn (REVMIGRATE_DSN)")
	}
	if cfg.MigrationDir == "" {
		missing = append(missing, "migration_dir (REVMIGRATE_MIGRATION_DIR)")
	}
	invalid = append(invalid, validate(cfg)...)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required settings are missing: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid settings: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.DSN, fc.DSN)
	set(&cfg.MigrationTable, fc.MigrationTable)
	set(&cfg.ProjectID, fc.ProjectID)
	set(&cfg.LockBackend, fc.LockBackend)
	set(&cfg.RedisURL, fc.RedisURL)
	set(&cfg.Drift, fc.Drift)
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.LogFormat, fc.LogFormat)

	if dir := strings.TrimSpace(fc.MigrationDir); dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		cfg.MigrationDir = dir
	}

	if v := strings.TrimSpace(fc.StepTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("parse config file %s: invalid step_timeout %q", path, v)
		}
		cfg.StepTimeout = d
	}
	return nil
}

// applyEnv overrides cfg from the environment and returns the names of
// variables whose values could not be parsed.
func applyEnv(cfg *Config) []string {
	invalid := make([]string, 0, 1)

	strs := []struct {
		key string
		dst *string
	}{
		{"REVMIGRATE_DSN", &cfg.DSN},
		{"REVMIGRATE_MIGRATION_DIR", &cfg.MigrationDir},
		{"REVMIGRATE_MIGRATION_TABLE", &cfg.MigrationTable},
		{"REVMIGRATE_PROJECT_ID", &cfg.ProjectID},
		{"REVMIGRATE_LOCK_BACKEND", &cfg.LockBackend},
		{"REVMIGRATE_REDIS_URL", &cfg.RedisURL},
		{"REVMIGRATE_DRIFT", &cfg.Drift},
		{"REVMIGRATE_LOG_LEVEL", &cfg.LogLevel},
		{"REVMIGRATE_LOG_FORMAT", &cfg.LogFormat},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(os.Getenv(s.key)); v != "" {
			*s.dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("REVMIGRATE_STEP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			invalid = append(invalid, "REVMIGRATE_STEP_TIMEOUT")
		} else {
			cfg.StepTimeout = d
		}
	}
	return invalid
}

func validate(cfg Config) []string {
	var invalid []string
	if cfg.DSN != "" {
		if _, err := cfg.Dialect(); err != nil {
			invalid = append(invalid, "dsn")
		}
	}
	if database.ValidateIdentifier(cfg.MigrationTable) != nil {
		invalid = append(invalid, "migration_table")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		invalid = append(invalid, "project_id")
	}
	switch cfg.LockBackend {
	case LockNative:
	case LockRedis:
		if cfg.RedisURL == "" {
			invalid = append(invalid, "redis_url")
		}
	default:
		invalid = append(invalid, "lock_backend")
	}
	if !oneOf(cfg.Drift, "off", "warn", "strict") {
		invalid = append(invalid, "drift")
	}
	if !oneOf(cfg.LogLevel, "debug", "info", "warn", "error") {
		invalid = append(invalid, "log_level")
	}
	if !oneOf(cfg.LogFormat, "text", "json") {
		invalid = append(invalid, "log_format")
	}
	return invalid
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
