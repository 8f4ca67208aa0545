package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker keeps locks in process memory.
// Locks are not shared between instances or kept across restarts.
type MemoryLocker struct {
	mu       sync.Mutex
	expiries map[string]time.Time
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an in-memory locker and starts its sweeper.
func NewMemoryLocker() *MemoryLocker {
	m := &MemoryLocker{
		expiries: make(map[string]time.Time),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go m.sweep(30 * time.Second)
	return m
}

// Stop ends the sweeper. It is safe to call more than once.
func (m *MemoryLocker) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *MemoryLocker) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for key, expiry := range m.expiries {
				if !now.Before(expiry) {
					delete(m.expiries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// heldLocked reports whether key is held. Expired entries are dropped.
// Callers must hold m.mu.
func (m *MemoryLocker) heldLocked(key string) bool {
	expiry, ok := m.expiries[key]
	if !ok {
		return false
	}
	if !m.now().Before(expiry) {
		delete(m.expiries, key)
		return false
	}
	return true
}

// Acquire takes the lock unless an unexpired holder exists.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heldLocked(key) {
		return false, nil
	}
	m.expiries[key] = m.now().Add(ttl)
	return true, nil
}

// Release drops the lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.expiries[key]; !ok {
		return false, nil
	}
	delete(m.expiries, key)
	return true, nil
}

// Extend pushes out the expiry of an unexpired lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.heldLocked(key) {
		return false, nil
	}
	m.expiries[key] = m.now().Add(ttl)
	return true, nil
}

// IsHeld reports whether the lock has an unexpired holder.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heldLocked(key), nil
}
