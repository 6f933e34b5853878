// Package photo stores report photos in an S3-compatible object store.
package photo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"trappertracker/api/internal/util"
)

// MaxPhotoSize is the largest accepted upload in bytes.
const MaxPhotoSize = 5 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ErrUnsupportedType is returned for uploads that are not JPEG, PNG, or WebP.
var ErrUnsupportedType = fmt.Errorf("unsupported photo content type")

// ErrTooLarge is returned for uploads above MaxPhotoSize.
var ErrTooLarge = fmt.Errorf("photo exceeds size limit")

// Service stores and retrieves photos via MinIO.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// ValidateUpload checks content type and declared size before any bytes
// are read. The size check is repeated during the streamed upload via
// an io.LimitReader, so a lying Content-Length cannot bypass it.
func ValidateUpload(contentType string, size int64) error {
	if _, ok := allowedContentTypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	if size > MaxPhotoSize {
		return ErrTooLarge
	}
	return nil
}

// Upload stores a photo and returns the generated object key.
func (s *Service) Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if err := ValidateUpload(contentType, size); err != nil {
		return "", err
	}

	key := util.NewID("ph") + allowedContentTypes[contentType]
	limited := io.LimitReader(r, MaxPhotoSize+1)

	info, err := s.client.PutObject(ctx, s.bucket, key, limited, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store photo %s: %w", key, err)
	}
	if info.Size > MaxPhotoSize {
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		return "", ErrTooLarge
	}

	return key, nil
}

// Get opens a stored photo for streaming. The caller must close the reader.
func (s *Service) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("open photo %s: %w", key, err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", fmt.Errorf("stat photo %s: %w", key, err)
	}

	return obj, stat.ContentType, nil
}

// Delete removes a stored photo. Missing objects are not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove photo %s: %w", key, err)
	}
	return nil
}
