// Package locking provides the run-deduplication lock taken by the scheduled
// housekeeping entrypoint before it does any work.
//
// Two backends satisfy Locker: db.JobLockRepository (PostgreSQL job_locks,
// the default) and RedisLocker (redsync over go-redis). Both treat a lock that
// is already held as a normal outcome (false, nil) and reserve errors for the
// backend being unreachable.
package locking

import (
	"context"
	"fmt"
	"time"
)

// Locker acquires a lock for lockID owned by workerID for at most ttl.
type Locker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// Backend names accepted by LOCK_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// HourlyLockID buckets a task run into its UTC hour, e.g.
// "close_expired_polls:2026-02-06T03". Duplicate scheduler deliveries within
// the same hour share a lock id.
func HourlyLockID(task string, now time.Time) string {
	return fmt.Sprintf("%s:%s", task, now.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}
