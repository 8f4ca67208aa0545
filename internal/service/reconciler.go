package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/lock"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/repository"
	"github.com/prn-tf/filevault/internal/storage"
)

// Reconciler repairs what interrupted upload and delete sagas leave behind:
// tombstoned records, objects without metadata and drifted upload counters.
type Reconciler struct {
	userRepo repository.UserRepository
	fileRepo repository.FileRepository
	gateway  storage.Gateway
	locker   lock.Locker
	logger   zerolog.Logger
	config   ReconcilerConfig
	now      func() time.Time

	// Control. cancel and done are set while the scheduler runs.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReconcilerConfig contains reconciliation configuration.
type ReconcilerConfig struct {
	// Interval is how often to run a reconciliation pass.
	Interval time.Duration

	// GracePeriod is how old an inconsistency must be before it is repaired.
	// This keeps the reconciler away from sagas that are still in flight.
	GracePeriod time.Duration

	// BatchSize is the maximum number of records processed per step.
	BatchSize int

	// DryRun logs what would be repaired without changing anything.
	DryRun bool
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:    1 * time.Hour,
		GracePeriod: 15 * time.Minute,
		BatchSize:   500,
		DryRun:      false,
	}
}

// NewReconciler creates a new reconciler.
func NewReconciler(
	userRepo repository.UserRepository,
	fileRepo repository.FileRepository,
	gateway storage.Gateway,
	locker lock.Locker,
	logger zerolog.Logger,
	config ReconcilerConfig,
) *Reconciler {
	defaults := DefaultReconcilerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaults.GracePeriod
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Reconciler{
		userRepo: userRepo,
		fileRepo: fileRepo,
		gateway:  gateway,
		locker:   locker,
		logger:   logger.With().Str("service", "reconciler").Logger(),
		config:   config,
		now:      time.Now,
	}
}

// Start begins the reconciliation scheduler.
// A stopped reconciler may be started again.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Dur("grace_period", r.config.GracePeriod).
		Int("batch_size", r.config.BatchSize).
		Bool("dry_run", r.config.DryRun).
		Msg("Starting reconciler")

	go r.runLoop(ctx, done)
}

// Stop cancels a running pass and waits for the scheduler to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.RunOnce(ctx, r.config.DryRun)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx, r.config.DryRun)
		case <-ctx.Done():
			return
		}
	}
}

// ReconcileResult contains the result of a reconciliation pass.
type ReconcileResult struct {
	// Skipped is true when another process holds the reconcile lock.
	Skipped bool

	// TombstonesPurged is the number of tombstoned records removed.
	TombstonesPurged int

	// OrphansDeleted is the number of objects without metadata removed.
	OrphansDeleted int

	// CountersRepaired is the number of users whose upload count was reset.
	CountersRepaired int

	// Errors is the number of errors encountered.
	Errors int

	// Cancelled is true when ctx ended before the pass finished.
	Cancelled bool

	// Duration is how long the pass took.
	Duration time.Duration
}

// RunOnce executes a single reconciliation pass.
// With dryRun set it reports what would be repaired without changing anything.
func (r *Reconciler) RunOnce(ctx context.Context, dryRun bool) ReconcileResult {
	start := time.Now()
	result := ReconcileResult{}

	lockTTL := r.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	runLock := lock.NewLock(r.locker, lock.Keys.Reconcile())
	acquired, err := runLock.Acquire(ctx, lockTTL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to acquire reconcile lock")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		r.logger.Debug().Msg("Reconcile lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if err := runLock.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error().Err(err).Msg("Failed to release reconcile lock")
		}
	}()

	cutoff := r.now().Add(-r.config.GracePeriod)

	// Tombstones go first: purging one may leave its owner's counter one too
	// high, which the recount below repairs in the same pass.
	r.purgeTombstones(ctx, cutoff, dryRun, &result)
	if ctx.Err() == nil {
		r.deleteOrphans(ctx, cutoff, dryRun, &result)
	}
	if ctx.Err() == nil {
		r.recountUploads(ctx, cutoff, dryRun, &result)
	}

	result.Cancelled = ctx.Err() != nil
	result.Duration = time.Since(start)
	if !dryRun {
		metrics.RecordReconcileRepairs("tombstone", result.TombstonesPurged)
		metrics.RecordReconcileRepairs("orphan", result.OrphansDeleted)
		metrics.RecordReconcileRepairs("counter", result.CountersRepaired)
	}
	metrics.RecordReconcileRun(result.Duration)

	r.logger.Info().
		Bool("dry_run", dryRun).
		Int("tombstones_purged", result.TombstonesPurged).
		Int("orphans_deleted", result.OrphansDeleted).
		Int("counters_repaired", result.CountersRepaired).
		Int("errors", result.Errors).
		Bool("cancelled", result.Cancelled).
		Dur("duration", result.Duration).
		Msg("Reconciliation run completed")

	return result
}

func (r *Reconciler) purgeTombstones(ctx context.Context, cutoff time.Time, dryRun bool, result *ReconcileResult) {
	tombstones, err := r.fileRepo.ListTombstones(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list tombstones")
		result.Errors++
		return
	}

	for _, file := range tombstones {
		if ctx.Err() != nil {
			return
		}
		if dryRun {
			r.logger.Info().
				Str("file_id", file.ID.String()).
				Str("storage_key", file.StorageKey).
				Msg("[DRY RUN] Would purge tombstone")
			result.TombstonesPurged++
			continue
		}

		if err := r.gateway.Delete(ctx, file.StorageKey); err != nil {
			r.logger.Error().
				Err(err).
				Str("storage_key", file.StorageKey).
				Msg("Failed to delete tombstoned object")
			result.Errors++
			continue
		}

		if err := r.fileRepo.Delete(ctx, file.ID); err != nil && !errors.Is(err, domain.ErrFileNotFound) {
			r.logger.Error().
				Err(err).
				Str("file_id", file.ID.String()).
				Msg("Failed to purge tombstone")
			result.Errors++
			continue
		}

		r.logger.Debug().
			Str("file_id", file.ID.String()).
			Str("storage_key", file.StorageKey).
			Msg("Purged tombstone")
		result.TombstonesPurged++
	}
}

func (r *Reconciler) deleteOrphans(ctx context.Context, cutoff time.Time, dryRun bool, result *ReconcileResult) {
	objects, err := r.gateway.List(ctx, domain.StorageKeyPrefix)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list stored objects")
		result.Errors++
		return
	}

	checked := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return
		}
		if checked >= r.config.BatchSize {
			r.logger.Info().Msg("More objects remain for next run")
			break
		}
		// Objects this young may belong to an upload that has not recorded
		// its metadata yet.
		if obj.LastModified.After(cutoff) {
			continue
		}
		checked++

		referenced, err := r.fileRepo.ExistsByStorageKey(ctx, obj.Key)
		if err != nil {
			r.logger.Error().Err(err).Str("storage_key", obj.Key).Msg("Failed to check object reference")
			result.Errors++
			continue
		}
		if referenced {
			continue
		}

		if dryRun {
			r.logger.Info().
				Str("storage_key", obj.Key).
				Int64("size", obj.Size).
				Msg("[DRY RUN] Would delete orphan object")
			result.OrphansDeleted++
			continue
		}

		if err := r.gateway.Delete(ctx, obj.Key); err != nil {
			r.logger.Error().Err(err).Str("storage_key", obj.Key).Msg("Failed to delete orphan object")
			result.Errors++
			continue
		}

		r.logger.Debug().
			Str("storage_key", obj.Key).
			Int64("size", obj.Size).
			Msg("Deleted orphan object")
		result.OrphansDeleted++
	}
}

func (r *Reconciler) recountUploads(ctx context.Context, idleSince time.Time, dryRun bool, result *ReconcileResult) {
	var (
		n   int64
		err error
	)
	if dryRun {
		n, err = r.userRepo.CountDrifted(ctx, idleSince)
	} else {
		n, err = r.userRepo.RecountUploadCounts(ctx, idleSince)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to recount upload counters")
		result.Errors++
		return
	}

	if n > 0 {
		if dryRun {
			r.logger.Info().Int64("count", n).Msg("[DRY RUN] Would repair upload counters")
		} else {
			r.logger.Info().Int64("count", n).Msg("Repaired upload counters")
		}
	}
	result.CountersRepaired = int(n)
}
