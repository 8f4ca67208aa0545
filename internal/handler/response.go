// Package handler provides the HTTP API for filevault.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/prn-tf/filevault/internal/service"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// APIError describes how a service error is presented to the client.
type APIError struct {
	// Err is the sentinel the error is matched against.
	Err error

	// HTTPStatusCode is the HTTP status code.
	HTTPStatusCode int

	// Message is the client-facing message.
	Message string
}

// apiErrors is checked in order; the first match wins.
var apiErrors = []APIError{
	// Validation
	{Err: service.ErrInvalidEmail, HTTPStatusCode: http.StatusBadRequest, Message: "Invalid email address"},
	{Err: service.ErrInvalidPassword, HTTPStatusCode: http.StatusBadRequest, Message: "Invalid password"},
	{Err: service.ErrUserAlreadyExists, HTTPStatusCode: http.StatusBadRequest, Message: "User already exists"},
	{Err: service.ErrNoFile, HTTPStatusCode: http.StatusBadRequest, Message: "No file uploaded"},
	{Err: service.ErrInvalidFile, HTTPStatusCode: http.StatusBadRequest, Message: "Invalid file"},
	{Err: service.ErrFileTooLarge, HTTPStatusCode: http.StatusBadRequest, Message: "File exceeds the maximum upload size"},
	{Err: service.ErrQuotaExceeded, HTTPStatusCode: http.StatusBadRequest, Message: "You have reached your upload limit"},

	// Authentication
	{Err: service.ErrInvalidCredentials, HTTPStatusCode: http.StatusUnauthorized, Message: "Invalid email or password"},
	{Err: service.ErrUnauthorized, HTTPStatusCode: http.StatusUnauthorized, Message: "Not authorized"},

	// Lookup
	{Err: service.ErrFileNotFound, HTTPStatusCode: http.StatusNotFound, Message: "File not found"},

	// Failures
	{Err: service.ErrUploadFailed, HTTPStatusCode: http.StatusInternalServerError, Message: "Failed to upload file"},
	{Err: service.ErrStoreFailure, HTTPStatusCode: http.StatusInternalServerError, Message: "Storage is unavailable"},
}

var errInternal = APIError{
	Err:            service.ErrInternalError,
	HTTPStatusCode: http.StatusInternalServerError,
	Message:        "Internal server error",
}

// ToAPIError maps err to its client-facing form.
// Unknown errors become a generic 500 so internal details never leak.
func ToAPIError(err error) APIError {
	for _, apiErr := range apiErrors {
		if errors.Is(err, apiErr.Err) {
			return apiErr
		}
	}
	return errInternal
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeMessage writes the error envelope with a fixed message.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  statusError,
		"message": message,
	})
}

// writeError writes the error envelope for err and logs server-side failures.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	apiErr := ToAPIError(err)
	if apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", apiErr.HTTPStatusCode).Msg("request rejected")
	}
	writeMessage(w, apiErr.HTTPStatusCode, apiErr.Message)
}

// requestLogger returns base tagged with the request ID assigned by the router.
func requestLogger(r *http.Request, base zerolog.Logger) zerolog.Logger {
	if id, ok := hlog.IDFromRequest(r); ok {
		return base.With().Str("request_id", id.String()).Logger()
	}
	return base
}

// decodeJSON decodes a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
