package lock

import (
	"context"
	"time"

	"github.com/prn-tf/filevault/internal/repository"
)

// RedisLocker shares locks between instances through a repository.DistributedLock.
type RedisLocker struct {
	dl repository.DistributedLock
}

// Ensure RedisLocker implements Locker.
var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(dl repository.DistributedLock) *RedisLocker {
	return &RedisLocker{dl: dl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.dl.Acquire(ctx, key, ttl)
}

func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	return l.dl.Release(ctx, key)
}

func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.dl.Extend(ctx, key, ttl)
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	return l.dl.IsHeld(ctx, key)
}
