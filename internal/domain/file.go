package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// StorageKeyPrefix is the root prefix for every uploaded object.
	StorageKeyPrefix = "user-uploads/"

	// DefaultMimeType is used when the client does not declare a content type.
	DefaultMimeType = "application/octet-stream"

	// MaxFilenameLength bounds the original file name kept in metadata.
	MaxFilenameLength = 255

	// MaxKeyNameLength bounds the file name part of a storage key so that
	// "<nonce>-<name>.json" fits in a 255 byte path segment.
	MaxKeyNameLength = 200

	// maxKeyExtLength is the longest extension kept when a name is shortened.
	maxKeyExtLength = 16
)

// File represents the metadata of an uploaded file.
// The bytes live in the object store under StorageKey.
type File struct {
	// ID is the unique identifier for the file.
	ID uuid.UUID `json:"id"`

	// OwnerID is the ID of the user who uploaded the file.
	OwnerID uuid.UUID `json:"userId"`

	// StorageKey identifies the backing object. Unique and immutable.
	StorageKey string `json:"storageKey"`

	// OriginalName is the client-supplied file name.
	OriginalName string `json:"originalName"`

	// MimeType is the client-declared content type.
	MimeType string `json:"mimeType"`

	// Size is the size of the file in bytes.
	Size int64 `json:"size"`

	// UploadedAt is the timestamp when the file was recorded.
	UploadedAt time.Time `json:"uploadDate"`

	// Deleted marks a tombstoned record.
	// Tombstones are never returned by active-file queries.
	Deleted bool `json:"-"`

	// DeletedAt is the timestamp when the record was tombstoned.
	DeletedAt *time.Time `json:"-"`
}

// NewFile creates a new File owned by ownerID with a fresh storage key.
func NewFile(ownerID uuid.UUID, originalName, mimeType string, size int64) *File {
	id := uuid.New()
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return &File{
		ID:           id,
		OwnerID:      ownerID,
		StorageKey:   StorageKey(ownerID, uuid.New(), originalName),
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
		UploadedAt:   time.Now().UTC(),
	}
}

// StorageKey builds the object key for an upload:
// user-uploads/user-<ownerID>/<nonce>-<base name>.
// Base names longer than MaxKeyNameLength are shortened; OriginalName is not.
func StorageKey(ownerID, nonce uuid.UUID, originalName string) string {
	return fmt.Sprintf("%suser-%s/%s-%s", StorageKeyPrefix, ownerID, nonce, keyName(originalName))
}

// keyName sanitizes name and shortens it to MaxKeyNameLength bytes,
// keeping a short extension when there is one.
func keyName(name string) string {
	name = SanitizeFilename(name)
	if len(name) <= MaxKeyNameLength {
		return name
	}

	ext := path.Ext(name)
	if len(ext) > maxKeyExtLength || !utf8.ValidString(ext) {
		ext = ""
	}
	stem := truncateUTF8(strings.TrimSuffix(name, ext), MaxKeyNameLength-len(ext))
	return stem + ext
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OwnerPrefix returns the key prefix under which all objects of a user live.
func OwnerPrefix(ownerID uuid.UUID) string {
	return fmt.Sprintf("%suser-%s/", StorageKeyPrefix, ownerID)
}

// SanitizeFilename strips any directory components from a client file name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

// ValidateFilename checks a client-supplied file name.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidFilename
	}
	if len(name) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	return nil
}
