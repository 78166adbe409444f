package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres uses session-level advisory locks. Each held lock pins one pooled
// connection until it is released, since the lock belongs to that session.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres locker over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// TryAcquire implements Locker with pg_try_advisory_lock.
func (l *Postgres) TryAcquire(ctx context.Context, key string) (Handle, error) {
	lockID := hashToInt64(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, ErrBusy
	}

	return newHandle(func(ctx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released); err != nil {
			return fmt.Errorf("release lock for %s: %w", key, err)
		}
		if !released {
			return fmt.Errorf("release lock for %s: lock was not held by this session", key)
		}
		return nil
	}), nil
}
