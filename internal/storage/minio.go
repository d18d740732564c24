package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sendvault/backend/internal/config"
	"github.com/sendvault/backend/pkg/logger"
)

// MinIOStore is the production BlobStore, backed by a MinIO/S3 bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinIOStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Error("minio_put_failed", err, map[string]interface{}{
			"object_name": key,
			"size":        size,
			"bucket":      m.bucket,
		})
	}
	return err
}

func (m *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logger.Error("minio_get_failed", err, map[string]interface{}{
			"object_name": key,
			"bucket":      m.bucket,
		})
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		logger.Error("minio_get_stat_failed", err, map[string]interface{}{
			"object_name": key,
			"bucket":      m.bucket,
		})
		return nil, err
	}
	return obj, nil
}

func (m *MinIOStore) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		logger.Error("minio_delete_failed", err, map[string]interface{}{
			"object_name": key,
			"bucket":      m.bucket,
		})
	}
	return err
}
