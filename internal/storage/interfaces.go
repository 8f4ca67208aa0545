// Package storage defines the object store gateway used by the vault.
// The gateway persists raw file bytes under opaque keys and hands out
// time-limited signed URLs so clients never need store credentials.
package storage

import (
	"context"
	"io"
	"time"
)

// Operation is the capability granted by a signed URL.
type Operation string

const (
	// OperationRead grants GET on a single key.
	OperationRead Operation = "read"

	// OperationWrite grants PUT on a single key.
	OperationWrite Operation = "write"
)

// Valid reports whether op is a supported operation.
func (op Operation) Valid() bool {
	return op == OperationRead || op == OperationWrite
}

// Gateway defines the interface for object store backends.
// Implementations exist for S3, MinIO and a local filesystem.
// Callers treat every method as fallible and non-retrying.
type Gateway interface {
	// Put stores content under key.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - key: Object key (see domain.StorageKey)
	//   - reader: Source of the content to store
	//   - size: Content length in bytes, or -1 if unknown
	//   - contentType: MIME type recorded with the object
	//
	// Returns:
	//   - PutResult: the key and a backend checksum (ETag or SHA-256)
	//   - err: wraps domain.ErrStoreWrite on failure
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*PutResult, error)

	// Get retrieves an object. The caller must close Object.Body.
	// Returns domain.ErrObjectNotFound if the key does not exist,
	// or an error wrapping domain.ErrStoreRead.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes an object. Deleting a missing key succeeds.
	// Returns an error wrapping domain.ErrStoreDelete on failure.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// SignURL produces a time-bounded URL granting one operation on one key.
	// Returns domain.ErrUnsupportedOperation for an unknown operation,
	// or an error wrapping domain.ErrStoreSign.
	SignURL(ctx context.Context, input SignInput) (string, error)

	// List returns the objects whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Health checks that the backend is reachable.
	Health(ctx context.Context) error
}

// PutResult is returned by Gateway.Put.
type PutResult struct {
	Key      string
	Checksum string
}

// Object is a stored object opened for reading.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// SignInput contains the parameters for Gateway.SignURL.
type SignInput struct {
	// Operation is the capability the URL grants.
	Operation Operation

	// Key is the object key.
	Key string

	// TTL is how long the URL stays valid.
	TTL time.Duration

	// ContentType is bound to write URLs.
	ContentType string

	// ResponseContentDisposition overrides the Content-Disposition header
	// returned when a read URL is dereferenced. Empty means no override.
	ResponseContentDisposition string
}
