package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store using an S3-compatible backend.
// Blobs are stored under {prefix}/cache/{key}.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3Store.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) Name() string { return "s3" }

// objectKey returns the full S3 key for a cache entry.
func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, "cache", key)
}

func (s *S3Store) Restore(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := s.objectKey(key)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrMiss, key)
		}
		return nil, fmt.Errorf("cache: failed to get %q from S3: %w", key, err)
	}

	return result.Body, nil
}

// Rebuild buffers the blob, since S3 PutObject requires a seekable body or
// known content length.
func (s *S3Store) Rebuild(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cache: failed to read blob: %w", err)
	}

	objectKey := s.objectKey(key)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("cache: failed to put %q to S3: %w", key, err)
	}
	return nil
}
