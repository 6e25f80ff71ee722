package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pollkeeper/internal/types"
)

// keyPrefix namespaces lock keys so they cannot collide with other data in a
// shared Redis.
const keyPrefix = "pollkeeper:lock:"

// mutex is the subset of *redsync.Mutex the locker uses.
type mutex interface {
	LockContext(ctx context.Context) error
}

type mutexFactory func(name string, options ...redsync.Option) mutex

// RedisLocker implements Locker with a single-attempt redsync mutex. The
// mutex is never unlocked: like a job_locks row it simply expires after ttl,
// so a second delivery within the window is suppressed even after the first
// run has finished.
type RedisLocker struct {
	newMutex mutexFactory
}

// NewRedisLocker creates a RedisLocker on top of an existing go-redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	rs := redsync.New(goredis.NewPool(client))
	return &RedisLocker{
		newMutex: func(name string, options ...redsync.Option) mutex {
			return rs.NewMutex(name, options...)
		},
	}
}

// Acquire tries once to take the lock. The lock value starts with workerID so
// the holder is visible when inspecting Redis.
func (l *RedisLocker) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	value := lockValue(workerID)
	m := l.newMutex(keyPrefix+lockID,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) { return value, nil }),
	)

	err := m.LockContext(ctx)
	if err == nil {
		return true, nil
	}

	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return false, nil
	}
	return false, types.NewAppError(types.ErrCodeUpstreamLock, "failed to acquire redis lock", err)
}

// lockValue is unique per attempt. redsync releases a failed acquisition by
// deleting the key only when it still holds this attempt's value, so two
// attempts from the same worker must never share one.
func lockValue(workerID string) string {
	return workerID + ":" + uuid.NewString()
}

// NewRedisClient parses a redis:// or rediss:// URL and verifies the server
// answers a PING.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}
