package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long a crashed holder blocks other runs.
const DefaultRedisTTL = 30 * time.Second

var (
	// Delete the key only if it still carries our token.
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	// Extend the TTL only if it still carries our token.
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis implements Locker with SET NX PX and a per-holder token. While held,
// the key's TTL is refreshed in the background so long migrations keep the
// lock.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis locker. A non-positive ttl uses DefaultRedisTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: "revmigrate:lock:", ttl: ttl, logger: logger}
}

// TryAcquire implements Locker.
func (l *Redis) TryAcquire(ctx context.Context, key string) (Handle, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(redisKey, token, stop, done)

	return newHandle(func(ctx context.Context) error {
		close(stop)
		<-done
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("release lock for %s: %w", key, err)
		}
		return nil
	}), nil
}

func (l *Redis) refresh(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("refresh migration lock failed", "key", redisKey, "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("migration lock lost", "key", redisKey)
				return
			}
		}
	}
}

// Break deletes the lock key regardless of owner.
func (l *Redis) Break(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Del(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("break lock for %s: %w", key, err)
	}
	return n > 0, nil
}
