// Package lock provides locks that keep background jobs from running twice.
// Single-node deployments use MemoryLocker; deployments with Redis share
// locks across instances through RedisLocker.
package lock

import (
	"context"
	"time"
)

// Locker acquires named locks that expire on their own.
type Locker interface {
	// Acquire attempts to take the lock for ttl.
	// Returns false without error when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lock. Returns false if it was not held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend pushes the expiry of a held lock out to ttl from now.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether anyone currently holds the lock.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock binds a Locker to one key and remembers whether it was acquired.
type Lock struct {
	locker Locker
	key    string
	held   bool
}

// NewLock creates a Lock for key.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{locker: locker, key: key}
}

// Acquire attempts to take the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.locker.Acquire(ctx, l.key, ttl)
	if err != nil {
		return false, err
	}
	l.held = acquired
	return acquired, nil
}

// Release drops the lock if this Lock acquired it.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	_, err := l.locker.Release(ctx, l.key)
	return err
}

// Held reports whether this Lock acquired the lock and has not released it.
func (l *Lock) Held() bool {
	return l.held
}

// Keys provides the lock names used by filevault.
var Keys = lockKeys{}

type lockKeys struct{}

// Reconcile is held for the duration of a reconciliation pass.
func (lockKeys) Reconcile() string {
	return "lock:reconcile"
}
