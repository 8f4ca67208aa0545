// Package s3 implements storage.Gateway on top of the AWS SDK for Go v2.
// It works against AWS S3 and any S3-compatible endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/storage"
)

const backendName = "s3"

// Gateway implements storage.Gateway using an S3 bucket.
type Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  zerolog.Logger
}

// Ensure Gateway implements storage.Gateway.
var _ storage.Gateway = (*Gateway)(nil)

// New creates a gateway from configuration. When cfg.CreateBucket is set
// the bucket is created if it does not exist.
func New(ctx context.Context, cfg config.S3StorageConfig, logger zerolog.Logger) (*Gateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	g := NewWithClient(client, cfg.Bucket, logger)

	if cfg.CreateBucket {
		if err := g.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client *s3.Client, bucket string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		logger:  logger.With().Str("component", "s3_gateway").Str("bucket", bucket).Logger(),
	}
}

func (g *Gateway) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = g.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(g.bucket),
	})
	metrics.RecordStoreOperation(backendName, "create_bucket", start, err)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot be created: %w", g.bucket, err)
	}

	g.logger.Info().Msg("created bucket")
	return nil
}

// Put uploads content under key.
func (g *Gateway) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	out, err := g.client.PutObject(ctx, input)
	metrics.RecordStoreOperation(backendName, "put", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", domain.ErrStoreWrite, key, err)
	}

	g.logger.Debug().Str("key", key).Int64("size", size).Msg("object stored")

	return &storage.PutResult{
		Key:      key,
		Checksum: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

// Get opens an object for reading.
func (g *Gateway) Get(ctx context.Context, key string) (*storage.Object, error) {
	start := time.Now()

	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordStoreOperation(backendName, "get", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStoreRead, key, err)
	}

	return &storage.Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}, nil
}

// Delete removes an object. S3 reports success for missing keys.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordStoreOperation(backendName, "delete", start, err)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStoreDelete, key, err)
	}

	g.logger.Debug().Str("key", key).Msg("object deleted")
	return nil
}

// Exists checks for an object with HeadObject.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordStoreOperation(backendName, "head", start, nil)
			return false, nil
		}
		metrics.RecordStoreOperation(backendName, "head", start, err)
		return false, fmt.Errorf("%w: head %s: %v", domain.ErrStoreRead, key, err)
	}

	metrics.RecordStoreOperation(backendName, "head", start, nil)
	return true, nil
}

// SignURL presigns a GET or PUT request for key.
func (g *Gateway) SignURL(ctx context.Context, input storage.SignInput) (string, error) {
	if !input.Operation.Valid() {
		return "", domain.ErrUnsupportedOperation
	}

	start := time.Now()
	expires := s3.WithPresignExpires(input.TTL)

	var (
		url string
		err error
	)
	switch input.Operation {
	case storage.OperationRead:
		get := &s3.GetObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(input.Key),
		}
		if input.ResponseContentDisposition != "" {
			get.ResponseContentDisposition = aws.String(input.ResponseContentDisposition)
		}
		req, signErr := g.presign.PresignGetObject(ctx, get, expires)
		if signErr == nil {
			url = req.URL
		}
		err = signErr
	case storage.OperationWrite:
		put := &s3.PutObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(input.Key),
		}
		if input.ContentType != "" {
			put.ContentType = aws.String(input.ContentType)
		}
		req, signErr := g.presign.PresignPutObject(ctx, put, expires)
		if signErr == nil {
			url = req.URL
		}
		err = signErr
	}

	metrics.RecordStoreOperation(backendName, "sign", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", domain.ErrStoreSign, input.Operation, input.Key, err)
	}
	return url, nil
}

// List returns every object under prefix, following continuation tokens.
func (g *Gateway) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()

	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []storage.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordStoreOperation(backendName, "list", start, err)
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrStoreRead, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	metrics.RecordStoreOperation(backendName, "list", start, nil)
	return objects, nil
}

// Health checks that the bucket is reachable.
func (g *Gateway) Health(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", g.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
