package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, name, password_hash, upload_count, created_at, updated_at`

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, password_hash, upload_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID.String(),
		user.Email,
		user.Name,
		user.PasswordHash,
		user.UploadCount,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetProfileByID retrieves a user by ID without the password hash.
func (r *userRepository) GetProfileByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, name, upload_count, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	user := &domain.User{}
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.UploadCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return user, nil
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, domain.NormalizeEmail(email)))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`

	var exists int
	if err := r.db.QueryRowContext(ctx, query, domain.NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists != 0, nil
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// IncrementUploadCount adds one to the counter only while it is below ceiling.
func (r *userRepository) IncrementUploadCount(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	query := `
		UPDATE users
		SET upload_count = upload_count + 1, updated_at = ?
		WHERE id = ? AND upload_count < ?
		RETURNING upload_count
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, formatTime(time.Now()), id.String(), ceiling).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("failed to increment upload count: %w", err)
	}

	// No row matched: the user is either missing or at the ceiling.
	if _, err := r.GetProfileByID(ctx, id); err != nil {
		return 0, err
	}
	return 0, domain.ErrQuotaExceeded
}

// DecrementUploadCount subtracts one from the counter, floored at zero.
func (r *userRepository) DecrementUploadCount(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE users
		SET upload_count = MAX(upload_count - 1, 0), updated_at = ?
		WHERE id = ?
		RETURNING upload_count
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, formatTime(time.Now()), id.String()).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to decrement upload count: %w", err)
	}
	return count, nil
}

// expectedCountExpr counts active files plus tombstones younger than the idle
// cutoff, whose delete saga may not have released its slot yet.
const expectedCountExpr = `(
	SELECT COUNT(*) FROM files f
	WHERE f.owner_id = users.id
	  AND (f.deleted = 0 OR f.deleted_at > ?)
)`

// RecountUploadCounts repairs drifted counters of users idle since idleSince.
func (r *userRepository) RecountUploadCounts(ctx context.Context, idleSince time.Time) (int64, error) {
	cutoff := formatTime(idleSince)
	query := `
		UPDATE users
		SET upload_count = ` + expectedCountExpr + `, updated_at = ?
		WHERE updated_at < ?
		  AND upload_count <> ` + expectedCountExpr

	result, err := r.db.ExecContext(ctx, query, cutoff, formatTime(time.Now()), cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recount upload counts: %w", err)
	}

	return result.RowsAffected()
}

// CountDrifted returns how many users RecountUploadCounts would repair.
func (r *userRepository) CountDrifted(ctx context.Context, idleSince time.Time) (int64, error) {
	cutoff := formatTime(idleSince)
	query := `
		SELECT COUNT(*) FROM users
		WHERE updated_at < ?
		  AND upload_count <> ` + expectedCountExpr

	var n int64
	if err := r.db.QueryRowContext(ctx, query, cutoff, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count drifted users: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var createdAt, updatedAt string

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.UploadCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return user, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
