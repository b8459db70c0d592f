// Package snapshot provides S3-compatible upload of database backups.
// When S3 is not configured (empty bucket), the NoopUploader is used and all
// S3 operations are skipped, keeping the system in local-only mode.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/siteplay/tally/internal/config"
)

// Uploader uploads database snapshot files to backup storage.
type Uploader interface {
	// Upload pushes the snapshot file at filePath to storage.
	Upload(ctx context.Context, filePath string) error
}

// s3Client defines the minimal minio.Client operation used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads snapshots to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// NewUploader builds an Uploader from the backup configuration. An empty
// bucket selects the NoopUploader.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload pushes the snapshot file to the configured bucket. Objects are keyed
// by day so a rolling window of backups accumulates.
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	key := objectKey(time.Now().UTC())
	_, err := u.client.FPutObject(ctx, u.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

func objectKey(t time.Time) string {
	return fmt.Sprintf("backups/%s/tally.db", t.Format("2006-01-02"))
}

// NoopUploader skips all uploads; used when S3 is not configured.
type NoopUploader struct{}

// Upload is a no-op.
func (n *NoopUploader) Upload(ctx context.Context, filePath string) error {
	return nil
}
