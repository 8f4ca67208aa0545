// Package domain contains the core business entities for filevault.
// These are pure Go structs with no infrastructure dependencies, representing
// the users of the vault and the files they own.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxUploadsPerUser is the fixed ceiling on a user's active files.
const MaxUploadsPerUser = 15

// User represents a registered user in the system.
// Users own files by reference; files are never embedded in the user record.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// Email is the unique email address used to log in.
	// Stored trimmed and lower-cased.
	Email string `json:"email"`

	// Name is the optional display name.
	Name string `json:"name"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// UploadCount is the number of active files owned by the user.
	// Constraints: 0 <= UploadCount <= MaxUploadsPerUser.
	UploadCount int `json:"uploadCount"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUser creates a new User with default values.
func NewUser(email, name, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UploadsRemaining returns how many more files the user may upload.
func (u *User) UploadsRemaining() int {
	remaining := MaxUploadsPerUser - u.UploadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NormalizeEmail returns the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
