// Package local implements storage.Gateway on a filesystem.
// Objects are served back through Handler using HMAC-signed URLs, so the
// backend behaves like a remote store for clients.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/pkg/crypto"
	"github.com/prn-tf/filevault/internal/storage"
)

const (
	backendName = "local"

	objectsDir = "objects"
	metaDir    = "meta"
	tmpDir     = "tmp"

	// RoutePrefix is the URL path under which Handler must be mounted.
	RoutePrefix = "/objects/"
)

// Signed URL query parameters.
const (
	paramOperation   = "op"
	paramExpires     = "expires"
	paramDisposition = "disposition"
	paramContentType = "content_type"
	paramSignature   = "sig"
)

// objectMeta is stored alongside each object.
type objectMeta struct {
	ContentType string    `json:"contentType"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"storedAt"`
}

// Gateway implements storage.Gateway on an afero filesystem.
type Gateway struct {
	fs         afero.Fs
	baseURL    string
	signingKey []byte
	logger     zerolog.Logger
	now        func() time.Time
}

// Ensure Gateway implements storage.Gateway.
var _ storage.Gateway = (*Gateway)(nil)

// New creates a gateway rooted at cfg.DataDir on the OS filesystem.
func New(cfg config.LocalStorageConfig, logger zerolog.Logger) (*Gateway, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	// Keys from filevault-admin keygen are hex encoded.
	signingKey := []byte(cfg.SigningKey)
	if key, err := crypto.ParseHexKey(cfg.SigningKey); err == nil {
		signingKey = key
	}

	return NewWithFs(afero.NewBasePathFs(osFs, cfg.DataDir), cfg.BaseURL, signingKey, logger)
}

// NewWithFs creates a gateway on an arbitrary filesystem.
func NewWithFs(fsys afero.Fs, baseURL string, signingKey []byte, logger zerolog.Logger) (*Gateway, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("local storage: signing key is required")
	}

	for _, dir := range []string{objectsDir, metaDir, tmpDir} {
		if err := fsys.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}

	return &Gateway{
		fs:         fsys,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
		logger:     logger.With().Str("component", "local_gateway").Logger(),
		now:        time.Now,
	}, nil
}

func objectPath(key string) (string, error) {
	return storage.ComputePath(objectsDir, key)
}

func metaPath(key string) (string, error) {
	p, err := storage.ComputePath(metaDir, key)
	if err != nil {
		return "", err
	}
	return p + ".json", nil
}

// Put writes content to a temporary file and renames it into place so
// readers never observe a partial object.
func (g *Gateway) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	start := time.Now()

	result, err := g.put(ctx, key, reader, size, contentType)
	metrics.RecordStoreOperation(backendName, "put", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", domain.ErrStoreWrite, key, err)
	}

	g.logger.Debug().Str("key", key).Str("sha256", result.Checksum).Msg("object stored")
	return result, nil
}

func (g *Gateway) put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	objPath, err := objectPath(key)
	if err != nil {
		return nil, err
	}
	mPath, err := metaPath(key)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpPath := path.Join(tmpDir, uuid.NewString())
	tmp, err := g.fs.Create(tmpPath)
	if err != nil {
		return nil, err
	}

	hr := crypto.NewHashReader(reader)
	_, copyErr := io.Copy(tmp, hr)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = g.fs.Remove(tmpPath)
		return nil, errors.Join(copyErr, closeErr)
	}
	if size >= 0 && hr.Size() != size {
		_ = g.fs.Remove(tmpPath)
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, hr.Size())
	}

	if err := g.fs.MkdirAll(filepath.Dir(objPath), 0o750); err != nil {
		_ = g.fs.Remove(tmpPath)
		return nil, err
	}
	if err := g.fs.MkdirAll(filepath.Dir(mPath), 0o750); err != nil {
		_ = g.fs.Remove(tmpPath)
		return nil, err
	}

	meta, err := json.Marshal(objectMeta{
		ContentType: contentType,
		SHA256:      hr.SHA256(),
		Size:        hr.Size(),
		StoredAt:    g.now().UTC(),
	})
	if err != nil {
		_ = g.fs.Remove(tmpPath)
		return nil, err
	}
	if err := afero.WriteFile(g.fs, mPath, meta, 0o640); err != nil {
		_ = g.fs.Remove(tmpPath)
		return nil, err
	}

	if err := g.fs.Rename(tmpPath, objPath); err != nil {
		_ = g.fs.Remove(tmpPath)
		_ = g.fs.Remove(mPath)
		return nil, err
	}

	return &storage.PutResult{Key: key, Checksum: hr.SHA256()}, nil
}

// Get opens an object for reading.
func (g *Gateway) Get(ctx context.Context, key string) (*storage.Object, error) {
	start := time.Now()

	obj, err := g.get(key)
	if errors.Is(err, domain.ErrObjectNotFound) {
		metrics.RecordStoreOperation(backendName, "get", start, nil)
		return nil, err
	}
	metrics.RecordStoreOperation(backendName, "get", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStoreRead, key, err)
	}
	return obj, nil
}

func (g *Gateway) get(key string) (*storage.Object, error) {
	objPath, err := objectPath(key)
	if err != nil {
		return nil, err
	}

	f, err := g.fs.Open(objPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	contentType := domain.DefaultMimeType
	if meta, err := g.readMeta(key); err == nil && meta.ContentType != "" {
		contentType = meta.ContentType
	}

	return &storage.Object{
		Body:        f,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

func (g *Gateway) readMeta(key string) (*objectMeta, error) {
	mPath, err := metaPath(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(g.fs, mPath)
	if err != nil {
		return nil, err
	}
	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Delete removes an object and its metadata. Missing keys are not an error.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := g.delete(key)
	metrics.RecordStoreOperation(backendName, "delete", start, err)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStoreDelete, key, err)
	}

	g.logger.Debug().Str("key", key).Msg("object deleted")
	return nil
}

func (g *Gateway) delete(key string) error {
	objPath, err := objectPath(key)
	if err != nil {
		return err
	}
	mPath, err := metaPath(key)
	if err != nil {
		return err
	}

	if err := g.fs.Remove(objPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := g.fs.Remove(mPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists checks whether the object file is present.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	objPath, err := objectPath(key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}

	ok, err := afero.Exists(g.fs, objPath)
	metrics.RecordStoreOperation(backendName, "head", start, err)
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", domain.ErrStoreRead, key, err)
	}
	return ok, nil
}

// SignURL returns a URL served by Handler. The signature covers the
// operation, key, expiry, disposition override and content type.
func (g *Gateway) SignURL(ctx context.Context, input storage.SignInput) (string, error) {
	if !input.Operation.Valid() {
		return "", domain.ErrUnsupportedOperation
	}

	start := time.Now()

	if err := storage.ValidateKey(input.Key); err != nil {
		metrics.RecordStoreOperation(backendName, "sign", start, err)
		return "", fmt.Errorf("%w: %v", domain.ErrStoreSign, err)
	}
	if input.TTL <= 0 {
		err := fmt.Errorf("non-positive ttl %s", input.TTL)
		metrics.RecordStoreOperation(backendName, "sign", start, err)
		return "", fmt.Errorf("%w: %v", domain.ErrStoreSign, err)
	}

	expires := g.now().Add(input.TTL).Unix()

	q := url.Values{}
	q.Set(paramOperation, string(input.Operation))
	q.Set(paramExpires, strconv.FormatInt(expires, 10))
	if input.ResponseContentDisposition != "" {
		q.Set(paramDisposition, input.ResponseContentDisposition)
	}
	if input.ContentType != "" {
		q.Set(paramContentType, input.ContentType)
	}
	q.Set(paramSignature, crypto.HMACSHA256(g.signingKey, canonicalString(
		input.Operation, input.Key, expires, input.ResponseContentDisposition, input.ContentType,
	)))

	metrics.RecordStoreOperation(backendName, "sign", start, nil)
	return g.baseURL + RoutePrefix + escapeKey(input.Key) + "?" + q.Encode(), nil
}

// List walks the object tree and returns every key under prefix.
func (g *Gateway) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()

	var objects []storage.ObjectInfo
	err := afero.Walk(g.fs, objectsDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		key := strings.TrimPrefix(filepath.ToSlash(p), objectsDir+"/")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})

	metrics.RecordStoreOperation(backendName, "list", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrStoreRead, prefix, err)
	}
	return objects, nil
}

// Health checks that the object directory is accessible.
func (g *Gateway) Health(ctx context.Context) error {
	if _, err := g.fs.Stat(objectsDir); err != nil {
		return fmt.Errorf("stat %s: %w", objectsDir, err)
	}
	return nil
}

// verify checks a signed request for key and returns the signed parameters.
func (g *Gateway) verify(key string, q url.Values) (storage.Operation, string, string, error) {
	op := storage.Operation(q.Get(paramOperation))
	if !op.Valid() {
		return "", "", "", domain.ErrInvalidPresignedURL
	}

	expires, err := strconv.ParseInt(q.Get(paramExpires), 10, 64)
	if err != nil {
		return "", "", "", domain.ErrInvalidPresignedURL
	}

	disposition := q.Get(paramDisposition)
	contentType := q.Get(paramContentType)

	msg := canonicalString(op, key, expires, disposition, contentType)
	if !crypto.VerifyHMACSHA256(g.signingKey, msg, q.Get(paramSignature)) {
		return "", "", "", domain.ErrInvalidPresignedURL
	}
	if g.now().Unix() > expires {
		return "", "", "", domain.ErrPresignedURLExpired
	}

	return op, disposition, contentType, nil
}

func canonicalString(op storage.Operation, key string, expires int64, disposition, contentType string) string {
	return strings.Join([]string{
		string(op),
		key,
		strconv.FormatInt(expires, 10),
		disposition,
		contentType,
	}, "\n")
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
