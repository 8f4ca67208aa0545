// Package service provides business logic services for filevault.
package service

import (
	"errors"

	"github.com/prn-tf/filevault/internal/domain"
)

// Common service errors.
var (
	// User errors
	ErrUserNotFound       = domain.ErrUserNotFound
	ErrUserAlreadyExists  = domain.ErrUserAlreadyExists
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	ErrInvalidEmail       = domain.ErrInvalidEmail
	ErrInvalidPassword    = domain.ErrInvalidPassword
	ErrUnauthorized       = errors.New("not authorized")

	// File errors
	ErrFileNotFound  = domain.ErrFileNotFound
	ErrQuotaExceeded = domain.ErrQuotaExceeded
	ErrInvalidFile   = errors.New("invalid file")
	ErrNoFile        = errors.New("no file uploaded")
	ErrFileTooLarge  = errors.New("file exceeds the maximum upload size")

	// Saga errors
	ErrUploadFailed = errors.New("failed to upload file")
	ErrStoreFailure = errors.New("object store failure")

	// General errors
	ErrInternalError = errors.New("internal server error")
)
