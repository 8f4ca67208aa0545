package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey indicates an object key that cannot be mapped safely.
var ErrInvalidKey = errors.New("invalid object key")

// MaxKeyLength is the maximum accepted object key length.
const MaxKeyLength = 1024

// ValidateKey rejects empty, overlong, absolute or traversing keys.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputePath maps an object key to a filesystem path below basePath.
//
// Example:
//
//	key: "user-uploads/user-1/abc-doc.txt"
//	basePath: "/data"
//	result: "/data/user-uploads/user-1/abc-doc.txt"
func ComputePath(basePath, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(basePath, filepath.FromSlash(path.Clean(key))), nil
}

// AttachmentDisposition builds a Content-Disposition value that forces a
// download named after the original file. The name is percent-encoded.
func AttachmentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename))
}
