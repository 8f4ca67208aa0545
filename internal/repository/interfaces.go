// Package repository defines data access interfaces for filevault.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/filevault/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create creates a new user.
	// Returns domain.ErrUserAlreadyExists if the email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID, including the password hash.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetProfileByID retrieves a user by ID without the password hash.
	// This is the single lookup performed by the auth gate.
	GetProfileByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// List returns users with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// IncrementUploadCount atomically adds one to the user's upload count
	// only while the count is below ceiling, returning the new count.
	// Returns domain.ErrQuotaExceeded if the ceiling is reached and
	// domain.ErrUserNotFound if the user does not exist.
	IncrementUploadCount(ctx context.Context, id uuid.UUID, ceiling int) (int, error)

	// DecrementUploadCount atomically subtracts one from the user's upload count,
	// never going below zero, and returns the new count.
	DecrementUploadCount(ctx context.Context, id uuid.UUID) (int, error)

	// RecountUploadCounts sets upload_count to the number of active files for
	// every user whose counter drifted and who has not been updated since idleSince.
	// Returns the number of users repaired.
	RecountUploadCounts(ctx context.Context, idleSince time.Time) (int64, error)

	// CountDrifted returns how many users RecountUploadCounts would repair.
	CountDrifted(ctx context.Context, idleSince time.Time) (int64, error)
}

// =============================================================================
// File Repository
// =============================================================================

// FileRepository defines the interface for file metadata access.
type FileRepository interface {
	// Create records a new file.
	// Returns domain.ErrFileAlreadyExists if the storage key is taken.
	Create(ctx context.Context, file *domain.File) error

	// GetByID retrieves a file by ID, tombstones included.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error)

	// GetActiveByIDAndOwner retrieves an active file owned by ownerID.
	// Absent, tombstoned and foreign files all return domain.ErrFileNotFound.
	GetActiveByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*domain.File, error)

	// ListActiveByOwner returns the active files of ownerID, newest first.
	// Every call re-reads the store.
	ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.File, error)

	// ExistsByStorageKey checks whether any record (active or tombstoned)
	// references the storage key.
	ExistsByStorageKey(ctx context.Context, storageKey string) (bool, error)

	// MarkDeleted tombstones an active file.
	// Returns domain.ErrFileNotFound if no active file has the ID.
	MarkDeleted(ctx context.Context, id uuid.UUID) error

	// Restore clears the tombstone on a file.
	Restore(ctx context.Context, id uuid.UUID) error

	// ListTombstones returns tombstoned files deleted before olderThan.
	ListTombstones(ctx context.Context, olderThan time.Time, limit int) ([]*domain.File, error)

	// Delete hard-deletes a file record by ID.
	// Returns domain.ErrFileNotFound if it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common options for list operations.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}
