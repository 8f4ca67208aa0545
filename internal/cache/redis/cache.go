// Package redis provides Redis-backed cache and distributed lock
// implementations for multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/repository"
)

// NewClient creates a Redis client from configuration and verifies the
// connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}

	return client, nil
}

// Cache implements repository.Cache on Redis.
type Cache struct {
	client redis.UniversalClient
}

// NewCache wraps a Redis client.
func NewCache(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: get %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return val, nil
}

// Set stores a value with an optional TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return nil
}

// Increment atomically increments an integer value with INCRBY.
// INCRBY leaves an existing TTL untouched.
func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incrby %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return n, nil
}

// Expire sets or updates the TTL for a key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		err = c.client.Expire(ctx, key, ttl).Err()
	} else {
		err = c.client.Persist(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: expire %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return nil
}

// TTL returns the remaining TTL for a key, translating Redis' sentinel
// values into the repository.Cache convention.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	switch ttl {
	case -2:
		return -1, nil
	case -1:
		return -2, nil
	}
	return ttl, nil
}

// Ensure Cache implements repository.Cache.
var _ repository.Cache = (*Cache)(nil)

// Lua scripts that only touch a lock still owned by the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// DistributedLock implements repository.DistributedLock with SET NX and
// token-checked release.
type DistributedLock struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewDistributedLock wraps a Redis client.
func NewDistributedLock(client redis.UniversalClient) *DistributedLock {
	return &DistributedLock{
		client: client,
		tokens: make(map[string]string),
	}
}

// Acquire attempts to acquire a lock.
func (l *DistributedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if i < maxRetries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return false, nil
}

// Release releases a lock held by this instance.
func (l *DistributedLock) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: release %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return n == 1, nil
}

// Extend extends the TTL of a lock held by this instance.
func (l *DistributedLock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: extend %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return n == 1, nil
}

// IsHeld checks if this instance currently holds the lock.
func (l *DistributedLock) IsHeld(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	val, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: get %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return val == token, nil
}

// Ensure DistributedLock implements repository.DistributedLock.
var _ repository.DistributedLock = (*DistributedLock)(nil)
