// Package database opens the target database from a DSN and knows which SQL
// dialect it speaks.
package database

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect names a supported backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// DialectFromDSN derives the dialect from the DSN scheme:
//
//	postgres://, postgresql://   PostgreSQL
//	mysql://                     MySQL or MariaDB
//	sqlite://, sqlite:, file:    SQLite
//
// A DSN without scheme ending in .db, .sqlite or .sqlite3, or ":memory:", is
// treated as a SQLite path.
func DialectFromDSN(dsn string) (Dialect, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case lower == "":
		return "", fmt.Errorf("empty DSN")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(lower, "mysql://"):
		return MySQL, nil
	case strings.HasPrefix(lower, "sqlite:"), strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return SQLite, nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return SQLite, nil
	}
	return "", fmt.Errorf("cannot derive database dialect from DSN %q", redact(dsn))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier checks that name is safe to splice into SQL as a table
// name on every dialect.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q: must match %s", name, identifierPattern)
	}
	return nil
}

// redact hides the password of URL-style DSNs.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":***@" + host
	}
	return dsn
}
