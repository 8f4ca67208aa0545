package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/lock"
	"github.com/prn-tf/filevault/internal/storage"
)

type reconcilerMocks struct {
	users   *MockUserRepository
	files   *MockFileRepository
	gateway *MockGateway
	locker  *MockLocker
}

func newTestReconciler(t *testing.T, now time.Time) (*Reconciler, *reconcilerMocks) {
	t.Helper()
	m := &reconcilerMocks{
		users:   new(MockUserRepository),
		files:   new(MockFileRepository),
		gateway: new(MockGateway),
		locker:  new(MockLocker),
	}
	r := NewReconciler(m.users, m.files, m.gateway, m.locker, zerolog.Nop(), ReconcilerConfig{
		Interval:    time.Hour,
		GracePeriod: 15 * time.Minute,
		BatchSize:   10,
	})
	r.now = func() time.Time { return now }
	t.Cleanup(func() {
		m.users.AssertExpectations(t)
		m.files.AssertExpectations(t)
		m.gateway.AssertExpectations(t)
		m.locker.AssertExpectations(t)
	})
	return r, m
}

func TestReconciler_RunOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-15 * time.Minute)
	owner := uuid.New()

	tombstone := &domain.File{ID: uuid.New(), OwnerID: owner, StorageKey: domain.StorageKey(owner, uuid.New(), "gone.txt"), Deleted: true}
	referenced := storage.ObjectInfo{Key: domain.StorageKey(owner, uuid.New(), "kept.txt"), LastModified: now.Add(-time.Hour)}
	orphan := storage.ObjectInfo{Key: domain.StorageKey(owner, uuid.New(), "orphan.txt"), Size: 7, LastModified: now.Add(-time.Hour)}
	inFlight := storage.ObjectInfo{Key: domain.StorageKey(owner, uuid.New(), "new.txt"), LastModified: now.Add(-time.Minute)}

	t.Run("repairs everything", func(t *testing.T) {
		r, m := newTestReconciler(t, now)
		m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), 30*time.Minute).Return(true, nil).Once()
		m.locker.On("Release", mock.Anything, lock.Keys.Reconcile()).Return(true, nil).Once()

		m.files.On("ListTombstones", mock.Anything, cutoff, 10).Return([]*domain.File{tombstone}, nil).Once()
		m.gateway.On("Delete", mock.Anything, tombstone.StorageKey).Return(nil).Once()
		m.files.On("Delete", mock.Anything, tombstone.ID).Return(nil).Once()

		m.gateway.On("List", mock.Anything, domain.StorageKeyPrefix).
			Return([]storage.ObjectInfo{referenced, orphan, inFlight}, nil).Once()
		m.files.On("ExistsByStorageKey", mock.Anything, referenced.Key).Return(true, nil).Once()
		m.files.On("ExistsByStorageKey", mock.Anything, orphan.Key).Return(false, nil).Once()
		m.gateway.On("Delete", mock.Anything, orphan.Key).Return(nil).Once()

		m.users.On("RecountUploadCounts", mock.Anything, cutoff).Return(int64(2), nil).Once()

		result := r.RunOnce(context.Background(), false)
		require.False(t, result.Skipped)
		require.Equal(t, 1, result.TombstonesPurged)
		require.Equal(t, 1, result.OrphansDeleted)
		require.Equal(t, 2, result.CountersRepaired)
		require.Zero(t, result.Errors)
		m.files.AssertNotCalled(t, "ExistsByStorageKey", mock.Anything, inFlight.Key)
	})

	t.Run("dry run changes nothing", func(t *testing.T) {
		r, m := newTestReconciler(t, now)
		m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(true, nil).Once()
		m.locker.On("Release", mock.Anything, lock.Keys.Reconcile()).Return(true, nil).Once()

		m.files.On("ListTombstones", mock.Anything, cutoff, 10).Return([]*domain.File{tombstone}, nil).Once()
		m.gateway.On("List", mock.Anything, domain.StorageKeyPrefix).Return([]storage.ObjectInfo{orphan}, nil).Once()
		m.files.On("ExistsByStorageKey", mock.Anything, orphan.Key).Return(false, nil).Once()
		m.users.On("CountDrifted", mock.Anything, cutoff).Return(int64(3), nil).Once()

		result := r.RunOnce(context.Background(), true)
		require.Equal(t, 1, result.TombstonesPurged)
		require.Equal(t, 1, result.OrphansDeleted)
		require.Equal(t, 3, result.CountersRepaired)
		m.gateway.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		m.files.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		m.users.AssertNotCalled(t, "RecountUploadCounts", mock.Anything, mock.Anything)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		r, m := newTestReconciler(t, now)
		m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(false, nil).Once()

		result := r.RunOnce(context.Background(), false)
		require.True(t, result.Skipped)
		require.Zero(t, result.Errors)
	})

	t.Run("lock failure", func(t *testing.T) {
		r, m := newTestReconciler(t, now)
		m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(false, errors.New("redis down")).Once()

		result := r.RunOnce(context.Background(), false)
		require.Equal(t, 1, result.Errors)
	})

	t.Run("step failures are counted and do not stop the pass", func(t *testing.T) {
		r, m := newTestReconciler(t, now)
		m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(true, nil).Once()
		m.locker.On("Release", mock.Anything, lock.Keys.Reconcile()).Return(true, nil).Once()

		m.files.On("ListTombstones", mock.Anything, cutoff, 10).Return([]*domain.File{tombstone}, nil).Once()
		m.gateway.On("Delete", mock.Anything, tombstone.StorageKey).Return(domain.ErrStoreDelete).Once()
		m.gateway.On("List", mock.Anything, domain.StorageKeyPrefix).Return(nil, domain.ErrStoreRead).Once()
		m.users.On("RecountUploadCounts", mock.Anything, cutoff).Return(int64(1), nil).Once()

		result := r.RunOnce(context.Background(), false)
		require.Equal(t, 2, result.Errors)
		require.Zero(t, result.TombstonesPurged)
		require.Equal(t, 1, result.CountersRepaired)
		m.files.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestReconciler_StartStop(t *testing.T) {
	r, m := newTestReconciler(t, time.Now())
	runs := make(chan struct{}, 2)
	m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).
		Run(func(mock.Arguments) { runs <- struct{}{} }).
		Return(false, nil).Twice()

	for range 2 {
		r.Start()
		r.Start()
		select {
		case <-runs:
		case <-time.After(5 * time.Second):
			t.Fatal("reconciler did not run on start")
		}
		r.Stop()
		r.Stop()
	}
}

func TestReconciler_StopCancelsRunningPass(t *testing.T) {
	r, m := newTestReconciler(t, time.Now())
	owner := uuid.New()
	tombstones := []*domain.File{
		{ID: uuid.New(), OwnerID: owner, StorageKey: domain.StorageKey(owner, uuid.New(), "a.txt"), Deleted: true},
		{ID: uuid.New(), OwnerID: owner, StorageKey: domain.StorageKey(owner, uuid.New(), "b.txt"), Deleted: true},
	}

	started := make(chan struct{})
	m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(true, nil).Once()
	m.locker.On("Release", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), lock.Keys.Reconcile()).
		Return(true, nil).Once()
	m.files.On("ListTombstones", mock.Anything, mock.Anything, 10).Return(tombstones, nil).Once()
	m.gateway.On("Delete", mock.Anything, tombstones[0].StorageKey).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.Canceled).Once()

	r.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not reach the object store")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running pass")
	}
}

func TestReconciler_RunOnceCancelled(t *testing.T) {
	r, m := newTestReconciler(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	m.locker.On("Acquire", mock.Anything, lock.Keys.Reconcile(), mock.Anything).Return(true, nil).Once()
	m.locker.On("Release", mock.Anything, lock.Keys.Reconcile()).Return(true, nil).Once()
	m.files.On("ListTombstones", mock.Anything, mock.Anything, 10).
		Run(func(mock.Arguments) { cancel() }).
		Return([]*domain.File{}, nil).Once()

	result := r.RunOnce(ctx, false)
	require.True(t, result.Cancelled)
	require.Zero(t, result.Errors)
	m.gateway.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	m.users.AssertNotCalled(t, "RecountUploadCounts", mock.Anything, mock.Anything)
}
