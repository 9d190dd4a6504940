package relay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
)

// S3Config holds connection settings for an S3-compatible file hub.
type S3Config struct {
	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Bucket is the bucket name.
	Bucket string

	// KeyPrefix is prepended to all object keys. A trailing "/" is added
	// when missing.
	KeyPrefix string

	// AccessKey and SecretKey select static credentials. When empty the
	// SDK default credential chain applies.
	AccessKey string
	SecretKey string

	// ForcePathStyle forces path-style addressing (required for MinIO).
	ForcePathStyle bool
}

// S3Store is an S3-backed RemoteStore.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	closed    bool
	mu        sync.RWMutex
}

// NewS3Store creates an S3Store by building an S3 client from config.
func NewS3Store(ctx context.Context, config S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	prefix := config.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: prefix,
	}, nil
}

func (s *S3Store) fullKey(key string) string {
	return s.keyPrefix + key
}

func (s *S3Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Stat returns size information for a key, or errors.ErrObjectNotFound.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if s.isClosed() {
		return ObjectInfo{}, errpkg.ErrStoreClosed
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return ObjectInfo{}, errpkg.ErrObjectNotFound
		}
		return ObjectInfo{}, fmt.Errorf("s3 head object: %w", err)
	}

	return ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}, nil
}

// Put uploads body under key. size is the exact body length; an existing
// object is overwritten.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if s.isClosed() {
		return errpkg.ErrStoreClosed
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}

	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return errpkg.ErrStoreClosed
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}

	return nil
}

// List returns all objects under prefix, keys relative to the store prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if s.isClosed() {
		return nil, errpkg.ErrStoreClosed
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.keyPrefix != "" && strings.HasPrefix(key, s.keyPrefix) {
				key = key[len(s.keyPrefix):]
			}
			objects = append(objects, ObjectInfo{Key: key, Size: aws.ToInt64(obj.Size)})
		}
	}

	return objects, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return errpkg.ErrStoreClosed
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("file hub health check failed: %w", err)
	}

	return nil
}

// Close marks the store as closed.
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ RemoteStore = (*S3Store)(nil)
