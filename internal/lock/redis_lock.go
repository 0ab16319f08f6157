// Package lock provides the per-session critical section used by every
// read-modify-write of session state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is still held by someone else
// after the wait budget is spent.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the lock named key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease can never release a lock taken over by another holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock (SET NX PX + token release).
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block others; wait bounds how long WithLock polls before giving up.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:   rdb,
		ttl:   ttl,
		wait:  wait,
		retry: 25 * time.Millisecond,
	}
}

// Lease is a held lock.
type Lease struct {
	key   string
	token string
}

// Acquire polls until the lock is taken, the wait budget runs out or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return &Lease{key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// Release frees the lease. Releasing an expired lease is a no-op.
func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", lease.key, err)
	}
	return nil
}

// WithLock acquires key, runs fn and releases on every exit path.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, lease)
	}()

	return fn(ctx)
}
