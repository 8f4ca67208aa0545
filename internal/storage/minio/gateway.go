// Package minio implements storage.Gateway with the MinIO Go client.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/storage"
)

const backendName = "minio"

// Gateway implements storage.Gateway using a MinIO (or S3-compatible) bucket.
type Gateway struct {
	client *minio.Client
	bucket string
	region string
	logger zerolog.Logger
}

// Ensure Gateway implements storage.Gateway.
var _ storage.Gateway = (*Gateway)(nil)

// New connects to the endpoint in cfg. The endpoint is host:port without a
// scheme; cfg.UseSSL selects https.
func New(ctx context.Context, cfg config.S3StorageConfig, logger zerolog.Logger) (*Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	g := NewWithClient(client, cfg.Bucket, cfg.Region, logger)

	if cfg.CreateBucket {
		if err := g.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// NewWithClient wraps an existing MinIO client.
func NewWithClient(client *minio.Client, bucket, region string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger.With().Str("component", "minio_gateway").Str("bucket", bucket).Logger(),
	}
}

func (g *Gateway) ensureBucket(ctx context.Context) error {
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", g.bucket, err)
	}
	if exists {
		return nil
	}

	start := time.Now()
	err = g.client.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{Region: g.region})
	metrics.RecordStoreOperation(backendName, "create_bucket", start, err)
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", g.bucket, err)
	}

	g.logger.Info().Msg("created bucket")
	return nil
}

// Put uploads content under key.
func (g *Gateway) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	start := time.Now()

	info, err := g.client.PutObject(ctx, g.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	metrics.RecordStoreOperation(backendName, "put", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", domain.ErrStoreWrite, key, err)
	}

	g.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("object stored")

	return &storage.PutResult{Key: key, Checksum: info.ETag}, nil
}

// Get opens an object for reading. The object is stat'ed first so a
// missing key surfaces here instead of on the first Read.
func (g *Gateway) Get(ctx context.Context, key string) (*storage.Object, error) {
	start := time.Now()

	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err == nil {
		var stat minio.ObjectInfo
		stat, err = obj.Stat()
		if err == nil {
			metrics.RecordStoreOperation(backendName, "get", start, nil)
			return &storage.Object{
				Body:        obj,
				ContentType: stat.ContentType,
				Size:        stat.Size,
			}, nil
		}
		_ = obj.Close()
	}

	metrics.RecordStoreOperation(backendName, "get", start, err)
	if isNotFound(err) {
		return nil, domain.ErrObjectNotFound
	}
	return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStoreRead, key, err)
}

// Delete removes an object. Missing keys are not an error.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{})
	metrics.RecordStoreOperation(backendName, "delete", start, err)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStoreDelete, key, err)
	}

	g.logger.Debug().Str("key", key).Msg("object deleted")
	return nil
}

// Exists checks for an object with StatObject.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordStoreOperation(backendName, "head", start, nil)
			return false, nil
		}
		metrics.RecordStoreOperation(backendName, "head", start, err)
		return false, fmt.Errorf("%w: stat %s: %v", domain.ErrStoreRead, key, err)
	}

	metrics.RecordStoreOperation(backendName, "head", start, nil)
	return true, nil
}

// SignURL presigns a GET or PUT for key. Read URLs carry the
// response-content-disposition override when one is requested.
func (g *Gateway) SignURL(ctx context.Context, input storage.SignInput) (string, error) {
	if !input.Operation.Valid() {
		return "", domain.ErrUnsupportedOperation
	}

	start := time.Now()

	var (
		u   *url.URL
		err error
	)
	switch input.Operation {
	case storage.OperationRead:
		params := make(url.Values)
		if input.ResponseContentDisposition != "" {
			params.Set("response-content-disposition", input.ResponseContentDisposition)
		}
		u, err = g.client.PresignedGetObject(ctx, g.bucket, input.Key, input.TTL, params)
	case storage.OperationWrite:
		headers := make(http.Header)
		if input.ContentType != "" {
			headers.Set("Content-Type", input.ContentType)
		}
		u, err = g.client.PresignHeader(ctx, http.MethodPut, g.bucket, input.Key, input.TTL, nil, headers)
	}

	metrics.RecordStoreOperation(backendName, "sign", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", domain.ErrStoreSign, input.Operation, input.Key, err)
	}
	return u.String(), nil
}

// List returns every object under prefix.
func (g *Gateway) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()

	var objects []storage.ObjectInfo
	for obj := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			metrics.RecordStoreOperation(backendName, "list", start, obj.Err)
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrStoreRead, prefix, obj.Err)
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	metrics.RecordStoreOperation(backendName, "list", start, nil)
	return objects, nil
}

// Health checks that the bucket exists.
func (g *Gateway) Health(ctx context.Context) error {
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", g.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", g.bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
