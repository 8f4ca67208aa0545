package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*MemoryLocker, *time.Time) {
	t.Helper()
	m := NewMemoryLocker()
	t.Cleanup(m.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("exclusive until released", func(t *testing.T) {
		m, _ := newTestLocker(t)

		ok, err := m.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = m.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.False(t, ok)

		held, err := m.IsHeld(ctx, "k")
		require.NoError(t, err)
		require.True(t, held)

		released, err := m.Release(ctx, "k")
		require.NoError(t, err)
		require.True(t, released)

		released, err = m.Release(ctx, "k")
		require.NoError(t, err)
		require.False(t, released)

		ok, err = m.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("expires", func(t *testing.T) {
		m, now := newTestLocker(t)

		ok, _ := m.Acquire(ctx, "k", time.Minute)
		require.True(t, ok)

		*now = now.Add(time.Minute)

		held, _ := m.IsHeld(ctx, "k")
		require.False(t, held)
		extended, _ := m.Extend(ctx, "k", time.Minute)
		require.False(t, extended)

		ok, _ = m.Acquire(ctx, "k", time.Minute)
		require.True(t, ok)
	})

	t.Run("extend", func(t *testing.T) {
		m, now := newTestLocker(t)

		ok, _ := m.Acquire(ctx, "k", time.Minute)
		require.True(t, ok)

		*now = now.Add(50 * time.Second)
		extended, err := m.Extend(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, extended)

		*now = now.Add(50 * time.Second)
		held, _ := m.IsHeld(ctx, "k")
		require.True(t, held)
	})

	t.Run("cancelled context", func(t *testing.T) {
		m, _ := newTestLocker(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := m.Acquire(cancelled, "k", time.Minute)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryLocker_SingleWinner(t *testing.T) {
	m := NewMemoryLocker()
	t.Cleanup(m.Stop)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Acquire(context.Background(), Keys.Reconcile(), time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLocker()
	t.Cleanup(m.Stop)

	first := NewLock(m, "job")
	second := NewLock(m, "job")

	ok, err := first.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, first.Held())

	ok, err = second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// A Lock that never acquired must not release someone else's lock.
	require.NoError(t, second.Release(ctx))
	held, _ := m.IsHeld(ctx, "job")
	require.True(t, held)

	require.NoError(t, first.Release(ctx))
	require.False(t, first.Held())
	held, _ = m.IsHeld(ctx, "job")
	require.False(t, held)
}
