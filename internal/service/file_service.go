package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/repository"
	"github.com/prn-tf/filevault/internal/storage"
)

const (
	// DefaultURLExpiration is the lifetime of every signed read URL.
	DefaultURLExpiration = time.Hour

	// DefaultSignConcurrency bounds the parallel signing calls of a listing.
	DefaultSignConcurrency = 8

	sagaUpload = "upload"
	sagaDelete = "delete"
)

// FileService orchestrates uploads, deletions and signed access to files.
// Every method receives the authenticated owner explicitly.
type FileService struct {
	userRepo repository.UserRepository
	fileRepo repository.FileRepository
	gateway  storage.Gateway
	logger   zerolog.Logger
	config   FileServiceConfig
}

// FileServiceConfig contains file service configuration.
type FileServiceConfig struct {
	// URLExpiration is the lifetime of signed read URLs.
	URLExpiration time.Duration

	// SignConcurrency is the maximum number of concurrent signing calls
	// issued while listing.
	SignConcurrency int

	// MaxUploadSize is the largest accepted upload in bytes. Zero disables the check.
	MaxUploadSize int64
}

// DefaultFileServiceConfig returns sensible defaults.
func DefaultFileServiceConfig() FileServiceConfig {
	return FileServiceConfig{
		URLExpiration:   DefaultURLExpiration,
		SignConcurrency: DefaultSignConcurrency,
	}
}

// NewFileService creates a new FileService.
func NewFileService(
	userRepo repository.UserRepository,
	fileRepo repository.FileRepository,
	gateway storage.Gateway,
	logger zerolog.Logger,
	config FileServiceConfig,
) *FileService {
	if config.URLExpiration <= 0 {
		config.URLExpiration = DefaultURLExpiration
	}
	if config.SignConcurrency <= 0 {
		config.SignConcurrency = DefaultSignConcurrency
	}
	return &FileService{
		userRepo: userRepo,
		fileRepo: fileRepo,
		gateway:  gateway,
		logger:   logger.With().Str("service", "file").Logger(),
		config:   config,
	}
}

// =============================================================================
// Upload
// =============================================================================

// UploadInput contains the data needed to upload a file.
type UploadInput struct {
	// Filename is the client-supplied original name.
	Filename string

	// ContentType is the client-declared MIME type. Empty selects
	// domain.DefaultMimeType.
	ContentType string

	// Size is the content length in bytes.
	Size int64

	// Body is the file content.
	Body io.Reader
}

// UploadOutput contains the result of an upload.
type UploadOutput struct {
	File        *domain.File
	UploadCount int
}

// Upload stores a file for owner.
//
// The upload proceeds in three steps: reserve a quota slot, store the
// object, record the metadata. When a later step fails the earlier ones
// are compensated in reverse order.
func (s *FileService) Upload(ctx context.Context, owner *domain.User, input UploadInput) (*UploadOutput, error) {
	if owner == nil {
		return nil, ErrUnauthorized
	}
	if err := s.validateUploadInput(input); err != nil {
		metrics.RecordUpload("rejected", 0)
		return nil, err
	}

	log := s.logger.With().Str("user_id", owner.ID.String()).Logger()

	count, err := s.userRepo.IncrementUploadCount(ctx, owner.ID, domain.MaxUploadsPerUser)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			metrics.RecordUpload("rejected", 0)
			return nil, ErrQuotaExceeded
		case errors.Is(err, domain.ErrUserNotFound):
			metrics.RecordUpload("rejected", 0)
			return nil, ErrUnauthorized
		}
		log.Error().Err(err).Msg("failed to reserve upload slot")
		metrics.RecordUpload("failed", 0)
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	file := domain.NewFile(owner.ID, input.Filename, input.ContentType, input.Size)
	log = log.With().Str("storage_key", file.StorageKey).Logger()

	if _, err := s.gateway.Put(ctx, file.StorageKey, input.Body, input.Size, file.MimeType); err != nil {
		log.Error().Err(err).Msg("failed to store object")
		s.releaseSlot(ctx, log, owner.ID, sagaUpload)
		metrics.RecordUpload("failed", 0)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if err := s.fileRepo.Create(ctx, file); err != nil {
		log.Error().Err(err).Msg("failed to record file metadata")
		s.removeObject(ctx, log, file.StorageKey)
		s.releaseSlot(ctx, log, owner.ID, sagaUpload)
		metrics.RecordUpload("failed", 0)
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	owner.UploadCount = count
	metrics.RecordUpload("success", file.Size)
	log.Info().
		Str("file_id", file.ID.String()).
		Int64("size", file.Size).
		Int("upload_count", count).
		Msg("file uploaded")

	return &UploadOutput{File: file, UploadCount: count}, nil
}

func (s *FileService) validateUploadInput(input UploadInput) error {
	if input.Body == nil {
		return ErrNoFile
	}
	if err := domain.ValidateFilename(input.Filename); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if input.Size < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFile, domain.ErrInvalidFileSize)
	}
	if s.config.MaxUploadSize > 0 && input.Size > s.config.MaxUploadSize {
		return ErrFileTooLarge
	}
	return nil
}

// releaseSlot gives back a reserved quota slot. Failures are left to the reconciler.
func (s *FileService) releaseSlot(ctx context.Context, log zerolog.Logger, ownerID uuid.UUID, saga string) {
	_, err := s.userRepo.DecrementUploadCount(context.WithoutCancel(ctx), ownerID)
	metrics.RecordCompensation(saga, "release_slot", err)
	if err != nil {
		log.Error().Err(err).Str("saga", saga).Msg("compensation failed: upload slot not released")
	}
}

// removeObject deletes an object that has no metadata. Failures are left to the reconciler.
func (s *FileService) removeObject(ctx context.Context, log zerolog.Logger, key string) {
	err := s.gateway.Delete(context.WithoutCancel(ctx), key)
	metrics.RecordCompensation(sagaUpload, "remove_object", err)
	if err != nil {
		log.Error().Err(err).Msg("compensation failed: orphaned object left in store")
	}
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes a file owned by owner.
//
// The record is tombstoned first so it disappears from listings at once.
// The object is then removed, the quota slot released and the tombstone
// purged. If the object cannot be removed the tombstone is lifted again.
func (s *FileService) Delete(ctx context.Context, owner *domain.User, fileID uuid.UUID) error {
	if owner == nil {
		return ErrUnauthorized
	}

	file, err := s.locate(ctx, owner, fileID)
	if err != nil {
		metrics.RecordDelete("rejected")
		return err
	}

	log := s.logger.With().
		Str("user_id", owner.ID.String()).
		Str("file_id", file.ID.String()).
		Str("storage_key", file.StorageKey).
		Logger()

	if err := s.fileRepo.MarkDeleted(ctx, file.ID); err != nil {
		// A concurrent delete got there first.
		if errors.Is(err, domain.ErrFileNotFound) {
			metrics.RecordDelete("rejected")
			return ErrFileNotFound
		}
		log.Error().Err(err).Msg("failed to tombstone file")
		metrics.RecordDelete("failed")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if err := s.gateway.Delete(ctx, file.StorageKey); err != nil {
		log.Error().Err(err).Msg("failed to delete object")
		restoreErr := s.fileRepo.Restore(context.WithoutCancel(ctx), file.ID)
		metrics.RecordCompensation(sagaDelete, "restore", restoreErr)
		if restoreErr != nil {
			log.Error().Err(restoreErr).Msg("compensation failed: file left tombstoned")
		}
		metrics.RecordDelete("failed")
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	count, err := s.userRepo.DecrementUploadCount(ctx, owner.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to release upload slot")
		metrics.RecordDelete("failed")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	owner.UploadCount = count

	if err := s.fileRepo.Delete(ctx, file.ID); err != nil && !errors.Is(err, domain.ErrFileNotFound) {
		log.Warn().Err(err).Msg("failed to purge tombstone")
	}

	metrics.RecordDelete("success")
	log.Info().Int("upload_count", count).Msg("file deleted")
	return nil
}

// =============================================================================
// Listing and signed access
// =============================================================================

// FileWithURL is a file together with a signed read URL.
type FileWithURL struct {
	*domain.File
	URL string `json:"url"`
}

// ListOutput contains the active files of a user.
type ListOutput struct {
	Files           []FileWithURL
	UploadRemaining int
}

// List returns the active files of owner, each with a signed read URL.
// A single signing failure fails the whole listing.
func (s *FileService) List(ctx context.Context, owner *domain.User) (*ListOutput, error) {
	if owner == nil {
		return nil, ErrUnauthorized
	}

	files, err := s.fileRepo.ListActiveByOwner(ctx, owner.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", owner.ID.String()).Msg("failed to list files")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	out := make([]FileWithURL, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.SignConcurrency)
	for i, file := range files {
		g.Go(func() error {
			url, err := s.sign(gctx, file.StorageKey, "")
			if err != nil {
				return fmt.Errorf("sign %s: %w", file.ID, err)
			}
			out[i] = FileWithURL{File: file, URL: url}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("user_id", owner.ID.String()).Msg("failed to sign file URLs")
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	return &ListOutput{
		Files:           out,
		UploadRemaining: owner.UploadsRemaining(),
	}, nil
}

// DownloadOutput is a signed URL that makes browsers save the file.
type DownloadOutput struct {
	URL      string
	Filename string
}

// DownloadURL returns a signed URL whose response forces a download
// named after the original file.
func (s *FileService) DownloadURL(ctx context.Context, owner *domain.User, fileID uuid.UUID) (*DownloadOutput, error) {
	if owner == nil {
		return nil, ErrUnauthorized
	}
	file, err := s.locate(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}

	url, err := s.sign(ctx, file.StorageKey, storage.AttachmentDisposition(file.OriginalName))
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", file.ID.String()).Msg("failed to sign download URL")
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return &DownloadOutput{URL: url, Filename: file.OriginalName}, nil
}

// PreviewOutput is a signed URL served with the stored content type.
type PreviewOutput struct {
	URL      string
	MimeType string
}

// PreviewURL returns a signed URL for viewing the file inline.
func (s *FileService) PreviewURL(ctx context.Context, owner *domain.User, fileID uuid.UUID) (*PreviewOutput, error) {
	if owner == nil {
		return nil, ErrUnauthorized
	}
	file, err := s.locate(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}

	url, err := s.sign(ctx, file.StorageKey, "")
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", file.ID.String()).Msg("failed to sign preview URL")
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return &PreviewOutput{URL: url, MimeType: file.MimeType}, nil
}

// locate finds an active file of owner. Foreign files are reported as missing.
func (s *FileService) locate(ctx context.Context, owner *domain.User, fileID uuid.UUID) (*domain.File, error) {
	file, err := s.fileRepo.GetActiveByIDAndOwner(ctx, fileID, owner.ID)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return nil, ErrFileNotFound
		}
		s.logger.Error().Err(err).Str("file_id", fileID.String()).Msg("failed to get file")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return file, nil
}

func (s *FileService) sign(ctx context.Context, key, disposition string) (string, error) {
	return s.gateway.SignURL(ctx, storage.SignInput{
		Operation:                  storage.OperationRead,
		Key:                        key,
		TTL:                        s.config.URLExpiration,
		ResponseContentDisposition: disposition,
	})
}
