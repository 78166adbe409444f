package sqlledger

import (
	"fmt"

	"github.com/example/revmigrate/internal/database"
)

// dialect holds the bookkeeping SQL that differs between backends. User
// scripts are never translated.
type dialect struct {
	name        database.Dialect
	createTable string // format string taking the table name
	placeholder func(n int) string
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

var dialects = map[database.Dialect]dialect{
	database.SQLite: {
		name: database.SQLite,
		createTable: `CREATE TABLE IF NOT EXISTS %s (
			revision_id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		placeholder: questionMark,
	},
	database.Postgres: {
		name: database.Postgres,
		createTable: `CREATE TABLE IF NOT EXISTS %s (
			revision_id VARCHAR(255) PRIMARY KEY,
			applied_at VARCHAR(40) NOT NULL,
			checksum VARCHAR(128) NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		placeholder: dollar,
	},
	database.MySQL: {
		name: database.MySQL,
		createTable: `CREATE TABLE IF NOT EXISTS %s (
			revision_id VARCHAR(255) NOT NULL,
			applied_at VARCHAR(40) NOT NULL,
			checksum VARCHAR(128) NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (revision_id)
		) DEFAULT CHARSET utf8mb4`,
		placeholder: questionMark,
	},
}

func lookupDialect(name database.Dialect) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported dialect %q", name)
	}
	return d, nil
}
