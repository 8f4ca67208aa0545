package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/storage"
)

const testBucket = "vault-test"

type fakeObject struct {
	data        []byte
	contentType string
}

// fakeS3 is a minimal path-style S3 endpoint backed by a map.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/"+testBucket)
	key := strings.TrimPrefix(rest, "/")

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			f.list(w, r.URL.Query().Get("prefix"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = fakeObject{data: data, contentType: r.Header.Get("Content-Type")}
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(obj.data)))
		_, _ = w.Write(obj.data)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", testBucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
			k, len(f.objects[k].data), time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Format("2006-01-02T15:04:05.000Z"))
	}
	b.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, b.String())
}

func newTestGateway(t *testing.T) (*Gateway, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider("AKIDTEST", "secret", ""),
		Retryer:                    aws.NopRetryer{},
		HTTPClient:                 srv.Client(),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})

	return NewWithClient(client, testBucket, zerolog.Nop()), fake
}

func TestGateway_PutGet(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-notes.txt"

	res, err := g.Put(ctx, key, strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	require.Equal(t, key, res.Key)
	require.Equal(t, "etag-5", res.Checksum)

	obj, err := g.Get(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, "text/plain", obj.ContentType)
	require.Equal(t, int64(5), obj.Size)
}

func TestGateway_GetMissing(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.Get(context.Background(), "user-uploads/user-1/missing")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestGateway_ExistsAndDelete(t *testing.T) {
	g, fake := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-a.bin"

	exists, err := g.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = g.Put(ctx, key, strings.NewReader("xyz"), 3, "application/octet-stream")
	require.NoError(t, err)

	exists, err = g.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, g.Delete(ctx, key))
	require.Empty(t, fake.objects)

	// deleting again is not an error
	require.NoError(t, g.Delete(ctx, key))
}

func TestGateway_List(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	for _, key := range []string{
		"user-uploads/user-1/a-one.txt",
		"user-uploads/user-2/b-two.txt",
		"other/c-three.txt",
	} {
		_, err := g.Put(ctx, key, strings.NewReader("data"), 4, "text/plain")
		require.NoError(t, err)
	}

	objects, err := g.List(ctx, domain.StorageKeyPrefix)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "user-uploads/user-1/a-one.txt", objects[0].Key)
	require.Equal(t, int64(4), objects[0].Size)
	require.False(t, objects[0].LastModified.IsZero())
}

func TestGateway_SignURL(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	key := "user-uploads/user-1/abc-report final.pdf"

	tests := []struct {
		name            string
		input           storage.SignInput
		wantDisposition string
		wantErr         error
	}{
		{
			name:            "download",
			input:           storage.SignInput{Operation: storage.OperationRead, Key: key, TTL: time.Hour, ResponseContentDisposition: storage.AttachmentDisposition("report final.pdf")},
			wantDisposition: `attachment; filename="report%20final.pdf"`,
		},
		{
			name:  "preview",
			input: storage.SignInput{Operation: storage.OperationRead, Key: key, TTL: time.Hour},
		},
		{
			name:  "write",
			input: storage.SignInput{Operation: storage.OperationWrite, Key: key, TTL: 15 * time.Minute, ContentType: "application/pdf"},
		},
		{
			name:    "unsupported",
			input:   storage.SignInput{Operation: "list", Key: key, TTL: time.Hour},
			wantErr: domain.ErrUnsupportedOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := g.SignURL(ctx, tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			q := u.Query()
			require.Equal(t, fmt.Sprint(int(tt.input.TTL.Seconds())), q.Get("X-Amz-Expires"))
			require.NotEmpty(t, q.Get("X-Amz-Signature"))
			require.Equal(t, tt.wantDisposition, q.Get("response-content-disposition"))
		})
	}
}

func TestGateway_Health(t *testing.T) {
	g, _ := newTestGateway(t)
	require.NoError(t, g.Health(context.Background()))
}
