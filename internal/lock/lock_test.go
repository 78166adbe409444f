package lock

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/revmigrate/internal/database"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	h, err := l.TryAcquire(ctx, "project-a")
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "project-a")
	require.ErrorIs(t, err, ErrBusy)

	other, err := l.TryAcquire(ctx, "project-b")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx), "second release is a no-op")

	again, err := l.TryAcquire(ctx, "project-a")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemory(t *testing.T) {
	l := NewMemory()
	exerciseLocker(t, l)

	ctx := context.Background()
	_, err := l.TryAcquire(ctx, "stuck")
	require.NoError(t, err)
	broken, err := l.Break(ctx, "stuck")
	require.NoError(t, err)
	assert.True(t, broken)
	h, err := l.TryAcquire(ctx, "stuck")
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
}

func newTableLock(t *testing.T) *Table {
	t.Helper()
	db, _, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "lock.db"), database.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := NewTable(db, "wd_migrations_lock")
	require.NoError(t, err)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func TestTable(t *testing.T) {
	exerciseLocker(t, newTableLock(t))
}

func TestTable_HolderAndBreak(t *testing.T) {
	ctx := context.Background()
	l := newTableLock(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	_, held, err := holder(ctx, l, "p")
	require.NoError(t, err)
	assert.False(t, held)

	h, err := l.TryAcquire(ctx, "p")
	require.NoError(t, err)

	since, held, err := holder(ctx, l, "p")
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, fixed.Equal(since))

	broken, err := l.Break(ctx, "p")
	require.NoError(t, err)
	assert.True(t, broken)

	// The original holder notices that its row is gone.
	assert.Error(t, h.Release(ctx))

	broken, err = l.Break(ctx, "p")
	require.NoError(t, err)
	assert.False(t, broken)
}

func holder(ctx context.Context, l *Table, key string) (time.Time, bool, error) {
	_, since, held, err := l.Holder(ctx, key)
	return since, held, err
}

func TestNewTable_RejectsBadName(t *testing.T) {
	_, err := NewTable(nil, "locks; DROP TABLE x")
	assert.Error(t, err)
}

func newRedisLock(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, ttl, nil), mr
}

func TestRedis(t *testing.T) {
	l, _ := newRedisLock(t, time.Second)
	exerciseLocker(t, l)
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLock(t, time.Second)

	h, err := l.TryAcquire(ctx, "p")
	require.NoError(t, err)

	// Another owner took over after our key expired.
	require.NoError(t, mr.Set("revmigrate:lock:p", "someone-else"))
	require.NoError(t, h.Release(ctx))

	got, err := mr.Get("revmigrate:lock:p")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_RefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	ttl := 300 * time.Millisecond
	l, mr := newRedisLock(t, ttl)

	h, err := l.TryAcquire(ctx, "p")
	require.NoError(t, err)
	defer h.Release(ctx)

	mr.FastForward(150 * time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.TTL("revmigrate:lock:p") == ttl
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRedis_Break(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLock(t, time.Second)

	h, err := l.TryAcquire(ctx, "p")
	require.NoError(t, err)
	defer h.Release(ctx)

	broken, err := l.Break(ctx, "p")
	require.NoError(t, err)
	assert.True(t, broken)

	h2, err := l.TryAcquire(ctx, "p")
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}

func TestMySQLLockName(t *testing.T) {
	assert.Equal(t, "revmigrate:default", mysqlLockName("default"))

	long := mysqlLockName(strings.Repeat("x", 100))
	assert.Len(t, long, mysqlMaxLockName)
	assert.Equal(t, long, mysqlLockName(strings.Repeat("x", 100)))
	assert.NotEqual(t, long, mysqlLockName(strings.Repeat("x", 99)+"y"))
}

func TestHashToInt64(t *testing.T) {
	assert.Equal(t, hashToInt64("key"), hashToInt64("key"))
	assert.NotEqual(t, hashToInt64("key-alpha"), hashToInt64("key-beta"))
	assert.GreaterOrEqual(t, hashToInt64("anything"), int64(0))
}
