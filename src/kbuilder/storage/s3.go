package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
)

// S3Config holds the S3 storage configuration
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL; empty uses AWS
	Endpoint string

	// Region is the S3 region (e.g., "us-east-1")
	Region string

	// Bucket receives the exported artifacts
	Bucket string

	// Prefix is prepended to every key
	Prefix string

	// AccessKeyID is the S3 access key
	AccessKeyID string

	// SecretAccessKey is the S3 secret key
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for most S3-compatible storage)
	UsePathStyle bool
}

// S3Backend stores artifacts in an S3-compatible bucket
type S3Backend struct {
	client *s3.Client
	config S3Config
}

// NewS3 creates an S3 backend. No request is made until first use.
func NewS3(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, kerrors.ErrInvalidConfig.WithMessage("storage.s3.bucket is not set")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	awsCfg := aws.Config{
		Region: cfg.Region,
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Backend{
		client: client,
		config: cfg,
	}, nil
}

// objectKey applies the configured prefix
func (b *S3Backend) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if b.config.Prefix == "" {
		return key
	}
	return b.config.Prefix + "/" + key
}

// Upload uploads data to S3
func (b *S3Backend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   reader,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return kerrors.ErrStorageUploadFailed.WithMessagef("failed to upload %s", b.URL(key)).WithCause(err)
	}
	return nil
}

// Exists checks if an object exists in S3
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, kerrors.ErrStorageUnavailable.WithCause(err)
}

// Delete deletes an object from S3
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return kerrors.ErrStorageUnavailable.WithMessagef("failed to delete %s", b.URL(key)).WithCause(err)
	}
	return nil
}

// List lists objects with the given prefix. Returned keys have the
// configured prefix removed.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(b.objectKey(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, kerrors.ErrStorageUnavailable.WithMessage("failed to list objects").WithCause(err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.config.Prefix != "" {
				key = strings.TrimPrefix(key, b.config.Prefix+"/")
			}
			objects = append(objects, ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// Ping checks the bucket is reachable
func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.config.Bucket),
	})
	if err != nil {
		return kerrors.ErrStorageUnavailable.WithMessagef("bucket %s is not reachable", b.config.Bucket).WithCause(err)
	}
	return nil
}

// URL returns the s3:// URL of key
func (b *S3Backend) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", b.config.Bucket, b.objectKey(key))
}

// Type returns the storage backend type
func (b *S3Backend) Type() string {
	return TypeS3
}

// Location returns the S3 endpoint and bucket
func (b *S3Backend) Location() string {
	endpoint := b.config.Endpoint
	if endpoint == "" {
		endpoint = "aws:" + b.config.Region
	}
	return fmt.Sprintf("%s/%s", endpoint, b.config.Bucket)
}
