package minio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/storage"
)

func newSigningGateway(t *testing.T) *Gateway {
	t.Helper()

	// Presigning is computed locally when the region is known, so no
	// server is needed behind this endpoint.
	client, err := minio.New("127.0.0.1:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)

	return NewWithClient(client, "vault", "us-east-1", zerolog.Nop())
}

func TestGateway_SignURL(t *testing.T) {
	g := newSigningGateway(t)
	key := "user-uploads/user-1/abc-photo.png"

	tests := []struct {
		name            string
		input           storage.SignInput
		wantDisposition string
		wantErr         error
	}{
		{
			name:            "read with disposition",
			input:           storage.SignInput{Operation: storage.OperationRead, Key: key, TTL: time.Hour, ResponseContentDisposition: storage.AttachmentDisposition("photo.png")},
			wantDisposition: `attachment; filename="photo.png"`,
		},
		{
			name:  "read without override",
			input: storage.SignInput{Operation: storage.OperationRead, Key: key, TTL: time.Hour},
		},
		{
			name:  "write",
			input: storage.SignInput{Operation: storage.OperationWrite, Key: key, TTL: time.Hour, ContentType: "image/png"},
		},
		{
			name:    "unsupported operation",
			input:   storage.SignInput{Operation: "delete", Key: key, TTL: time.Hour},
			wantErr: domain.ErrUnsupportedOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := g.SignURL(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			require.Equal(t, "/vault/"+key, u.Path)
			require.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
			require.Equal(t, tt.wantDisposition, u.Query().Get("response-content-disposition"))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	require.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	require.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	require.False(t, isNotFound(errors.New("connection refused")))
	require.False(t, isNotFound(nil))
}
