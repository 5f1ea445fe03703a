package repository

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectStore reads uploaded batch archives.
type ObjectStore interface {
	Download(ctx context.Context, bucket, objectPath string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, bucket, objectPath string) (bool, error)
	Ping(ctx context.Context) error
}

type MinIORepository struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

func NewMinIORepository(endpoint, accessKey, secretKey, bucket, region string, useSSL bool, connectTimeout time.Duration, logger zerolog.Logger) (*MinIORepository, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	repo := &MinIORepository{
		client: client,
		bucket: bucket,
		logger: logger,
	}

	// The uploader owns the bucket; a missing bucket at startup is only logged
	// so the worker can come up before the rest of the stack.
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Msg("MinIO not ready during startup; downloads will be retried per batch")
		return repo, nil
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("Connected to MinIO")

	return repo, nil
}

func (r *MinIORepository) Ping(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s: %w", r.bucket, ErrObjectNotFound)
	}
	return nil
}

// Download returns the object stream and its size. The caller closes the stream.
func (r *MinIORepository) Download(ctx context.Context, bucket, objectPath string) (io.ReadCloser, int64, error) {
	if bucket == "" {
		bucket = r.bucket
	}
	objectPath = NormalizeObjectPath(objectPath)
	if objectPath == "" {
		return nil, 0, fmt.Errorf("empty object path: %w", ErrObjectNotFound)
	}

	objInfo, err := r.client.StatObject(ctx, bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrObjectNotFound)
		}
		return nil, 0, fmt.Errorf("failed to stat object: %w", err)
	}

	object, err := r.client.GetObject(ctx, bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object: %w", err)
	}

	r.logger.Debug().
		Str("bucket", bucket).
		Str("object", objectPath).
		Int64("size", objInfo.Size).
		Msg("Archive download started")

	return object, objInfo.Size, nil
}

func (r *MinIORepository) Exists(ctx context.Context, bucket, objectPath string) (bool, error) {
	if bucket == "" {
		bucket = r.bucket
	}
	_, err := r.client.StatObject(ctx, bucket, NormalizeObjectPath(objectPath), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// NormalizeObjectPath strips a leading slash and converts Windows separators,
// since uploaders send either form.
func NormalizeObjectPath(objectPath string) string {
	p := strings.ReplaceAll(strings.TrimSpace(objectPath), "\\", "/")
	return strings.TrimLeft(p, "/")
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		return true
	default:
		return false
	}
}
