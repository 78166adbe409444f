package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// mysqlMaxLockName is the longest name GET_LOCK accepts.
const mysqlMaxLockName = 64

// MySQL uses GET_LOCK named locks, which like Postgres advisory locks belong
// to the session that took them.
type MySQL struct {
	db *sql.DB
}

// NewMySQL creates a MySQL locker over db.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

// TryAcquire implements Locker with GET_LOCK(name, 0).
func (l *MySQL) TryAcquire(ctx context.Context, key string) (Handle, error) {
	name := mysqlLockName(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}

	// 1 acquired, 0 timed out, NULL on error.
	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !acquired.Valid {
		conn.Close()
		return nil, fmt.Errorf("try acquire lock for %s: GET_LOCK returned NULL", key)
	}
	if acquired.Int64 != 1 {
		conn.Close()
		return nil, ErrBusy
	}

	return newHandle(func(ctx context.Context) error {
		defer conn.Close()
		var released sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
			return fmt.Errorf("release lock for %s: %w", key, err)
		}
		if released.Int64 != 1 {
			return fmt.Errorf("release lock for %s: lock was not held by this session", key)
		}
		return nil
	}), nil
}

// mysqlLockName keeps short keys readable and hashes long ones into the
// 64 character limit.
func mysqlLockName(key string) string {
	name := "revmigrate:" + key
	if len(name) <= mysqlMaxLockName {
		return name
	}
	suffix := fmt.Sprintf(":%016x", uint64(hashToInt64(key)))
	return name[:mysqlMaxLockName-len(suffix)] + suffix
}
