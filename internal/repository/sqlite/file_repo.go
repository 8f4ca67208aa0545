package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/repository"
)

// fileRepository implements repository.FileRepository for SQLite.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

const fileColumns = `id, owner_id, storage_key, original_name, mime_type, size, uploaded_at, deleted, deleted_at`

// Create records a new file.
func (r *fileRepository) Create(ctx context.Context, file *domain.File) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var deletedAt *string
	if file.DeletedAt != nil {
		s := formatTime(*file.DeletedAt)
		deletedAt = &s
	}

	_, err := r.db.ExecContext(ctx, query,
		file.ID.String(),
		file.OwnerID.String(),
		file.StorageKey,
		file.OriginalName,
		file.MimeType,
		file.Size,
		formatTime(file.UploadedAt),
		boolToInt(file.Deleted),
		deletedAt,
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
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`

	file, err := scanFile(r.db.QueryRowContext(ctx, query, id.String()))
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
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ? AND owner_id = ? AND deleted = 0`

	file, err := scanFile(r.db.QueryRowContext(ctx, query, id.String(), ownerID.String()))
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
		WHERE owner_id = ? AND deleted = 0
		ORDER BY uploaded_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return collectFiles(rows)
}

// ExistsByStorageKey checks whether any record references the storage key.
func (r *fileRepository) ExistsByStorageKey(ctx context.Context, storageKey string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = ?)`, storageKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists != 0, nil
}

// MarkDeleted tombstones an active file.
func (r *fileRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE files SET deleted = 1, deleted_at = ? WHERE id = ? AND deleted = 0`

	result, err := r.db.ExecContext(ctx, query, formatTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark file deleted: %w", err)
	}
	return requireAffected(result, domain.ErrFileNotFound)
}

// Restore clears the tombstone on a file.
func (r *fileRepository) Restore(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE files SET deleted = 0, deleted_at = NULL WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to restore file: %w", err)
	}
	return requireAffected(result, domain.ErrFileNotFound)
}

// ListTombstones returns tombstoned files deleted before olderThan.
func (r *fileRepository) ListTombstones(ctx context.Context, olderThan time.Time, limit int) ([]*domain.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE deleted = 1 AND deleted_at < ?
		ORDER BY deleted_at
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, formatTime(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	return collectFiles(rows)
}

// Delete hard-deletes a file record by ID.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return requireAffected(result, domain.ErrFileNotFound)
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func collectFiles(rows *sql.Rows) ([]*domain.File, error) {
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

func scanFile(row rowScanner) (*domain.File, error) {
	file := &domain.File{}
	var uploadedAt string
	var deleted int
	var deletedAt sql.NullString

	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.StorageKey,
		&file.OriginalName,
		&file.MimeType,
		&file.Size,
		&uploadedAt,
		&deleted,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	file.UploadedAt = parseTime(uploadedAt)
	file.Deleted = deleted != 0
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		file.DeletedAt = &t
	}
	return file, nil
}

// Ensure fileRepository implements repository.FileRepository.
var _ repository.FileRepository = (*fileRepository)(nil)
