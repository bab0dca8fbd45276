package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver keeps a copy of every compressed file that is uploaded.
type Archiver interface {
	Archive(ctx context.Context, path, key string) error
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// bucketClient is the part of *minio.Client the archiver uses.
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Archiver puts files into an S3-compatible bucket.
type S3Archiver struct {
	client bucketClient
	bucket string

	mu      sync.Mutex
	ensured bool
}

func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Archiver{client: client, bucket: bucket}, nil
}

// ensureBucket creates the bucket if needed. Only success is remembered, so a
// failed check is repeated on the next call.
func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	a.ensured = true
	return nil
}

func (a *S3Archiver) Archive(ctx context.Context, path, key string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", a.bucket, err)
	}
	_, err := a.client.FPutObject(ctx, a.bucket, key, path, minio.PutObjectOptions{
		ContentType: "application/zstd",
	})
	return err
}
