package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"careconnect-backend/pkg/resilience"
)

// ObjectStore wraps the MinIO client behind the resilience layer. All
// operations go through retry and the circuit breaker so a struggling
// object store degrades attachment features instead of hanging handlers.
type ObjectStore struct {
	client     *minio.Client
	bucket     string
	resilience *resilience.MinIOResilience
}

// NewObjectStore connects to MinIO and ensures the bucket exists.
func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &ObjectStore{
		client:     client,
		bucket:     bucket,
		resilience: resilience.NewMinIOResilience(),
	}

	err = store.resilience.Execute(ctx, "ensure_bucket", func() error {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !exists {
			return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", bucket, err)
	}

	return store, nil
}

// PresignedUpload returns a presigned PUT URL for the object key.
func (s *ObjectStore) PresignedUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	var presigned *url.URL
	err := s.resilience.Execute(ctx, "presign_put", func() error {
		var err error
		presigned, err = s.client.PresignedPutObject(ctx, s.bucket, objectKey, expiry)
		return err
	})
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}

// PresignedDownload returns a presigned GET URL that forces the original
// file name on download.
func (s *ObjectStore) PresignedDownload(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))

	var presigned *url.URL
	err := s.resilience.Execute(ctx, "presign_get", func() error {
		var err error
		presigned, err = s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, params)
		return err
	})
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}

// StatObject confirms the object exists and returns its size. Used to
// verify an upload actually happened before marking it completed.
func (s *ObjectStore) StatObject(ctx context.Context, objectKey string) (int64, error) {
	var info minio.ObjectInfo
	err := s.resilience.Execute(ctx, "stat_object", func() error {
		var err error
		info, err = s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
		return err
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Remove deletes the object.
func (s *ObjectStore) Remove(ctx context.Context, objectKey string) error {
	return s.resilience.Execute(ctx, "remove_object", func() error {
		return s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
	})
}
