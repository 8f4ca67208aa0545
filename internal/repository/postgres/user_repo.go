package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/repository"
)

// userRepository implements repository.UserRepository.
type userRepository struct {
	q Querier
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(q Querier) repository.UserRepository {
	return &userRepository{q: q}
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, password_hash, upload_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.UploadCount,
		user.CreatedAt,
		user.UpdatedAt,
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
	query := `
		SELECT id, email, name, password_hash, upload_count, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.UploadCount,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
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
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.UploadCount,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, name, password_hash, upload_count, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	user := &domain.User{}
	err := r.q.QueryRow(ctx, query, domain.NormalizeEmail(email)).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.UploadCount,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
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
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, domain.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `
		SELECT id, email, name, password_hash, upload_count, created_at, updated_at
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.q.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.Name,
			&user.PasswordHash,
			&user.UploadCount,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
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
// The conditional UPDATE makes check-and-increment a single atomic step.
func (r *userRepository) IncrementUploadCount(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	query := `
		UPDATE users
		SET upload_count = upload_count + 1, updated_at = NOW()
		WHERE id = $1 AND upload_count < $2
		RETURNING upload_count
	`

	var count int
	err := r.q.QueryRow(ctx, query, id, ceiling).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("failed to increment upload count: %w", err)
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return 0, domain.ErrUserNotFound
	}
	return 0, domain.ErrQuotaExceeded
}

// DecrementUploadCount subtracts one from the counter, floored at zero.
func (r *userRepository) DecrementUploadCount(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE users
		SET upload_count = GREATEST(upload_count - 1, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING upload_count
	`

	var count int
	if err := r.q.QueryRow(ctx, query, id).Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to decrement upload count: %w", err)
	}
	return count, nil
}

// expectedCounts lists, for users idle since $1, the number of files the
// counter should hold: active files plus tombstones newer than the cutoff.
const expectedCounts = `
	WITH expected AS (
		SELECT u.id, (
			SELECT COUNT(*) FROM files f
			WHERE f.owner_id = u.id AND (NOT f.deleted OR f.deleted_at > $1)
		)::INTEGER AS n
		FROM users u
		WHERE u.updated_at < $1
	)
`

// RecountUploadCounts repairs drifted counters of users idle since idleSince.
func (r *userRepository) RecountUploadCounts(ctx context.Context, idleSince time.Time) (int64, error) {
	query := expectedCounts + `
		UPDATE users
		SET upload_count = expected.n, updated_at = NOW()
		FROM expected
		WHERE users.id = expected.id AND users.upload_count <> expected.n
	`

	tag, err := r.q.Exec(ctx, query, idleSince)
	if err != nil {
		return 0, fmt.Errorf("failed to recount upload counts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDrifted returns how many users RecountUploadCounts would repair.
func (r *userRepository) CountDrifted(ctx context.Context, idleSince time.Time) (int64, error) {
	query := expectedCounts + `
		SELECT COUNT(*)
		FROM users JOIN expected ON users.id = expected.id
		WHERE users.upload_count <> expected.n
	`

	var n int64
	if err := r.q.QueryRow(ctx, query, idleSince).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count drifted users: %w", err)
	}
	return n, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
