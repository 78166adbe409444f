// Package lock provides non-blocking named locks used to serialize migration
// runs against one project: database-native advisory locks for PostgreSQL and
// MySQL, a lock table for SQLite, a Redis lock and an in-process lock.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// ErrBusy is returned by TryAcquire when another holder owns the lock.
var ErrBusy = errors.New("lock is held by another owner")

// Locker hands out named locks without waiting for them.
type Locker interface {
	// TryAcquire takes the lock for key or fails with ErrBusy.
	TryAcquire(ctx context.Context, key string) (Handle, error)
}

// Handle is a held lock. Release is safe to call more than once; only the
// first call has an effect.
type Handle interface {
	Release(ctx context.Context) error
}

type onceHandle struct {
	once    sync.Once
	release func(ctx context.Context) error
	err     error
}

func newHandle(release func(ctx context.Context) error) *onceHandle {
	return &onceHandle{release: release}
}

func (h *onceHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.release(ctx)
	})
	return h.err
}

// hashToInt64 converts a string key to a non-negative int64 using FNV-1a.
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// Breaker forcibly removes a lock left behind by a crashed holder. Session
// based locks (Postgres, MySQL) vanish with their connection and need no
// breaker.
type Breaker interface {
	Break(ctx context.Context, key string) (bool, error)
}
