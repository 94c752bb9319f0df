package artifacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores artifacts in a single MinIO (or S3-compatible) bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Store = (*MinIO)(nil)

// NewMinIO initializes the MinIO client. No network calls happen here;
// EnsureBucket does the first round trip.
func NewMinIO(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", endpoint))
	return &MinIO{client: client, bucket: bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket, tolerating a concurrent or earlier
// creation.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := s.client.BucketExists(ctx, s.bucket)
		if errBucketExists == nil && exists {
			s.logger.Info("MinIO bucket already exists", slog.String("bucket", s.bucket))
			return nil
		}
		return fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", s.bucket, err)
	}
	s.logger.Info("Successfully created MinIO bucket", slog.String("bucket", s.bucket))
	return nil
}

// Upload streams one object into the bucket.
func (s *MinIO) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("minio bucket name is not configured")
	}
	uploadInfo, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact '%s': %w", objectName, err)
	}
	s.logger.Debug("Stored artifact",
		slog.String("bucket", uploadInfo.Bucket),
		slog.String("key", uploadInfo.Key),
		slog.Int64("size", uploadInfo.Size))
	return uploadInfo.Key, nil
}

// PublicURL returns the path the artifact is served under, relative to
// whatever host fronts the bucket.
func (s *MinIO) PublicURL(objectName string) string {
	return "/" + path.Join("artifacts", s.bucket, objectName)
}
