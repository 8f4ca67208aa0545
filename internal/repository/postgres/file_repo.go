package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/repository"
)

// fileRepository implements repository.FileRepository.
type fileRepository struct {
	q Querier
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(q Querier) repository.FileRepository {
	return &fileRepository{q: q}
}

const fileColumns = `id, owner_id, storage_key, original_name, mime_type, size, uploaded_at, deleted, deleted_at`

// Create records a new file.
func (r *fileRepository) Create(ctx context.Context, file *domain.File) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		file.ID,
		file.OwnerID,
		file.StorageKey,
		file.OriginalName,
		file.MimeType,
		file.Size,
		file.UploadedAt,
		file.Deleted,
		file.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrFileAlreadyExists, "duplicate storage key", file.StorageKey)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

// GetByID retrieves a file by ID, tombstones included.
func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	file, err := scanFile(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file by ID: %w", err)
	}
	return file, nil
}

// GetActiveByIDAndOwner retrieves an active file owned by ownerID.
func (r *fileRepository) GetActiveByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*domain.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND owner_id = $2 AND NOT deleted`

	file, err := scanFile(r.q.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// ListActiveByOwner returns the active files of ownerID, newest first.
func (r *fileRepository) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE owner_id = $1 AND NOT deleted
		ORDER BY uploaded_at DESC, id
	`

	rows, err := r.q.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return collectFiles(rows)
}

// ExistsByStorageKey checks whether any record references the storage key.
func (r *fileRepository) ExistsByStorageKey(ctx context.Context, storageKey string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = $1)`, storageKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists, nil
}

// MarkDeleted tombstones an active file.
func (r *fileRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE files SET deleted = TRUE, deleted_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("failed to mark file deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// Restore clears the tombstone on a file.
func (r *fileRepository) Restore(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE files SET deleted = FALSE, deleted_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to restore file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// ListTombstones returns tombstoned files deleted before olderThan.
func (r *fileRepository) ListTombstones(ctx context.Context, olderThan time.Time, limit int) ([]*domain.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE deleted AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	return collectFiles(rows)
}

// Delete hard-deletes a file record by ID.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

func collectFiles(rows pgx.Rows) ([]*domain.File, error) {
	defer rows.Close()

	files := make([]*domain.File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

func scanFile(row pgx.Row) (*domain.File, error) {
	file := &domain.File{}
	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.StorageKey,
		&file.OriginalName,
		&file.MimeType,
		&file.Size,
		&file.UploadedAt,
		&file.Deleted,
		&file.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Ensure fileRepository implements repository.FileRepository.
var _ repository.FileRepository = (*fileRepository)(nil)
