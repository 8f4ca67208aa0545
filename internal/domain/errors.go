package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	// Unknown email and wrong password both map to this error.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidEmail indicates the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidPassword indicates the password does not meet requirements.
	ErrInvalidPassword = errors.New("password is required")

	// ===========================================
	// Quota Errors
	// ===========================================

	// ErrQuotaExceeded indicates the user already holds MaxUploadsPerUser files.
	ErrQuotaExceeded = errors.New("upload limit reached")

	// ===========================================
	// File Errors
	// ===========================================

	// ErrFileNotFound indicates the file does not exist or is not owned by the caller.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileAlreadyExists indicates a file with the same storage key exists.
	ErrFileAlreadyExists = errors.New("file already exists")

	// ErrInvalidFilename indicates the file name is empty.
	ErrInvalidFilename = errors.New("file name is required")

	// ErrFilenameTooLong indicates the file name exceeds MaxFilenameLength.
	ErrFilenameTooLong = errors.New("file name exceeds maximum length of 255 characters")

	// ErrInvalidFileSize indicates a negative size.
	ErrInvalidFileSize = errors.New("file size must not be negative")

	// ===========================================
	// Object Store Errors
	// ===========================================

	// ErrObjectNotFound indicates the backing object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStoreWrite indicates the object store rejected a write.
	ErrStoreWrite = errors.New("object store write failed")

	// ErrStoreRead indicates the object store failed to read an object.
	ErrStoreRead = errors.New("object store read failed")

	// ErrStoreDelete indicates the object store failed to delete an object.
	ErrStoreDelete = errors.New("object store delete failed")

	// ErrStoreSign indicates a signed URL could not be produced.
	ErrStoreSign = errors.New("object store signing failed")

	// ErrUnsupportedOperation indicates a signed URL was requested for an unknown operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ===========================================
	// Signed URL Errors
	// ===========================================

	// ErrPresignedURLExpired indicates the signed URL has expired.
	ErrPresignedURLExpired = errors.New("presigned URL has expired")

	// ErrInvalidPresignedURL indicates the signed URL is malformed or tampered with.
	ErrInvalidPresignedURL = errors.New("invalid presigned URL")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., file ID, storage key).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// WrapError wraps an error with domain context if it's not already a DomainError.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	return &DomainError{
		Err:     err,
		Message: message,
	}
}
