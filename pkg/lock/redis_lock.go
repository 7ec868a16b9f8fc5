// Package lock provides a short-lived, key-scoped mutual-exclusion
// primitive backed by redis. Acquisition is advisory: a false return means
// the guarded work is already in progress somewhere, not an error.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fablepress/internal/util"
)

// DefaultTTL bounds how long a crashed holder can stall a project before
// the key expires and generation can be restarted.
const DefaultTTL = 5 * time.Minute

// Locker acquires and releases advisory locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX + expiry.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	holder string
}

// NewRedisLocker connects to redis at addr. ttl <= 0 uses DefaultTTL.
func NewRedisLocker(addr, password string, ttl time.Duration) (*RedisLocker, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
		holder: util.NewID(),
	}, nil
}

// NewRedisLockerWithClient wraps an existing client; used by tests.
func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl, holder: util.NewID()}
}

// Acquire atomically sets key only if absent. False means already held.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("lock key required")
	}
	ok, err := l.client.SetNX(ctx, key, l.holder, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release unconditionally deletes the key. Releasing an expired or
// never-held key is a no-op.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("lock key required")
	}
	return l.client.Del(ctx, key).Err()
}

// ProjectKey names the lock guarding one project's generation chain.
func ProjectKey(projectID string) string {
	return "project:" + projectID
}
