package local

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/pkg/crypto"
	"github.com/prn-tf/filevault/internal/storage"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := NewWithFs(afero.NewMemMapFs(), "http://vault.test/", []byte("test-signing-key"), zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestNewWithFs_RequiresKey(t *testing.T) {
	_, err := NewWithFs(afero.NewMemMapFs(), "http://vault.test", nil, zerolog.Nop())
	require.Error(t, err)
}

func TestGateway_PutGetDelete(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-notes.txt"

	res, err := g.Put(ctx, key, strings.NewReader("hello vault"), 11, "text/plain")
	require.NoError(t, err)
	require.Equal(t, key, res.Key)
	require.Equal(t, crypto.ComputeSHA256([]byte("hello vault")), res.Checksum)

	exists, err := g.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	obj, err := g.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	require.Equal(t, "hello vault", string(data))
	require.Equal(t, "text/plain", obj.ContentType)
	require.Equal(t, int64(11), obj.Size)

	require.NoError(t, g.Delete(ctx, key))
	require.NoError(t, g.Delete(ctx, key))

	_, err = g.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	exists, err = g.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGateway_LongFilenamesOnDisk(t *testing.T) {
	g, err := New(config.LocalStorageConfig{
		DataDir:    t.TempDir(),
		BaseURL:    "http://vault.test",
		SigningKey: "test-signing-key",
	}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	names := []string{
		strings.Repeat("a", 240) + ".txt",
		strings.Repeat("b", domain.MaxFilenameLength),
		strings.Repeat("é", 120) + ".pdf",
	}
	for _, name := range names {
		require.NoError(t, domain.ValidateFilename(name))
		key := domain.StorageKey(uuid.New(), uuid.New(), name)

		_, err := g.Put(ctx, key, strings.NewReader("data"), 4, "text/plain")
		require.NoError(t, err)

		obj, err := g.Get(ctx, key)
		require.NoError(t, err)
		data, err := io.ReadAll(obj.Body)
		require.NoError(t, err)
		require.NoError(t, obj.Body.Close())
		require.Equal(t, "data", string(data))

		require.NoError(t, g.Delete(ctx, key))
	}
}

func TestGateway_PutErrors(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		body string
		size int64
	}{
		{name: "traversal key", key: "user-uploads/../etc/passwd", body: "x", size: 1},
		{name: "absolute key", key: "/etc/passwd", body: "x", size: 1},
		{name: "size mismatch", key: "user-uploads/user-1/a-b.txt", body: "abc", size: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Put(ctx, tt.key, strings.NewReader(tt.body), tt.size, "text/plain")
			require.ErrorIs(t, err, domain.ErrStoreWrite)
		})
	}

	objects, err := g.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, objects)
}

func TestGateway_List(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	for _, key := range []string{
		"user-uploads/user-1/a-one.txt",
		"user-uploads/user-1/b-two.txt",
		"user-uploads/user-2/c-three.txt",
	} {
		_, err := g.Put(ctx, key, strings.NewReader("data"), -1, "text/plain")
		require.NoError(t, err)
	}

	all, err := g.List(ctx, domain.StorageKeyPrefix)
	require.NoError(t, err)
	require.Len(t, all, 3)

	mine, err := g.List(ctx, "user-uploads/user-1/")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, obj := range mine {
		require.True(t, strings.HasPrefix(obj.Key, "user-uploads/user-1/"))
		require.Equal(t, int64(4), obj.Size)
	}
}

func TestGateway_SignedReadURL(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-my report.pdf"

	_, err := g.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	require.NoError(t, err)

	raw, err := g.SignURL(ctx, storage.SignInput{
		Operation:                  storage.OperationRead,
		Key:                        key,
		TTL:                        time.Hour,
		ResponseContentDisposition: storage.AttachmentDisposition("my report.pdf"),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "http://vault.test/objects/user-uploads/user-1/abc-my%20report.pdf?"))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, raw, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "%PDF-1.4", rec.Body.String())
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="my%20report.pdf"`, rec.Header().Get("Content-Disposition"))
}

func TestGateway_SignedURLRejected(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-a.txt"

	_, err := g.Put(ctx, key, strings.NewReader("a"), 1, "text/plain")
	require.NoError(t, err)

	raw, err := g.SignURL(ctx, storage.SignInput{Operation: storage.OperationRead, Key: key, TTL: time.Minute})
	require.NoError(t, err)

	tests := []struct {
		name       string
		mutate     func(u *url.URL)
		method     string
		advance    time.Duration
		wantStatus int
	}{
		{
			name:       "tampered signature",
			mutate:     func(u *url.URL) { q := u.Query(); q.Set("sig", strings.Repeat("0", 64)); u.RawQuery = q.Encode() },
			method:     http.MethodGet,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "added disposition",
			mutate:     func(u *url.URL) { q := u.Query(); q.Set("disposition", "attachment"); u.RawQuery = q.Encode() },
			method:     http.MethodGet,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "other key",
			mutate:     func(u *url.URL) { u.Path = "/objects/user-uploads/user-2/abc-a.txt" },
			method:     http.MethodGet,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "expired",
			mutate:     func(u *url.URL) {},
			method:     http.MethodGet,
			advance:    2 * time.Minute,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "write with read url",
			mutate:     func(u *url.URL) {},
			method:     http.MethodPut,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := time.Now()
			g.now = func() time.Time { return base.Add(tt.advance) }
			t.Cleanup(func() { g.now = time.Now })

			u, err := url.Parse(raw)
			require.NoError(t, err)
			tt.mutate(u)

			rec := httptest.NewRecorder()
			g.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, u.String(), strings.NewReader("b")))
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGateway_SignedWriteURL(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-upload.json"

	raw, err := g.SignURL(ctx, storage.SignInput{
		Operation:   storage.OperationWrite,
		Key:         key,
		TTL:         time.Hour,
		ContentType: "application/json",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, raw, strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPut, raw, strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	obj, err := g.Get(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()
	require.Equal(t, "application/json", obj.ContentType)
}

func TestGateway_SignURLValidation(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.SignURL(context.Background(), storage.SignInput{Operation: "copy", Key: "k", TTL: time.Hour})
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, err = g.SignURL(context.Background(), storage.SignInput{Operation: storage.OperationRead, Key: "../k", TTL: time.Hour})
	require.ErrorIs(t, err, domain.ErrStoreSign)

	_, err = g.SignURL(context.Background(), storage.SignInput{Operation: storage.OperationRead, Key: "k", TTL: 0})
	require.ErrorIs(t, err, domain.ErrStoreSign)
}

func TestGateway_Health(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Health(context.Background()))
}
