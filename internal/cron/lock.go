package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/pkg/instance"
)

const defaultLockTTL = 2 * time.Hour

// Locker hands out one exclusive lease per job name.
type Locker interface {
	TryLock(ctx context.Context, job string) (Lease, bool, error)
}

// Lease is a held job lock.
type Lease interface {
	Release(ctx context.Context) error
}

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(name string) string
}

// RedisLocker implements Locker with SETNX + TTL, one key per job.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed job locker. The TTL bounds how long a crashed
// holder can block the job.
func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// TryLock returns ok=false when another instance holds the job's lock. The stored value
// names the holding instance so a stuck lease can be traced in redis-cli.
func (l *RedisLocker) TryLock(ctx context.Context, job string) (Lease, bool, error) {
	if job == "" {
		return nil, false, errors.New("job name is required")
	}
	key := l.client.LockKey(job)
	owner := instance.ID() + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, owner: owner}, true, nil
}

type redisLease struct {
	client redisStore
	key    string
	owner  string
}

// Release frees the lock only if the owner value still matches. A lease that already
// expired and was taken by another instance is left alone.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.client.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
