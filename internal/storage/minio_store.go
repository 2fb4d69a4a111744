package storage

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stemsplit/api/internal/model"
)

var _ ObjectStore = (*MinioStore)(nil)

// MinioStore implements ObjectStore against any S3-compatible endpoint via minio-go
type MinioStore struct {
	client *minio.Client
	bucket string

	mu    sync.Mutex
	ready bool
}

// NewMinioStore creates a client for the given connection parameters.
// No network call is made until the first operation.
func NewMinioStore(cfg model.StoreConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Container == "" {
		return nil, errors.Mark(errors.New("store endpoint and container are required"), model.ErrInvalidRequest)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, storeError(err, "failed to create minio client for %s", cfg.Endpoint)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Container,
	}, nil
}

// NewMinioFactory returns a Factory producing MinioStores
func NewMinioFactory() Factory {
	return func(cfg model.StoreConfig) (ObjectStore, error) {
		return NewMinioStore(cfg)
	}
}

// EnsureContainer creates the bucket if it does not exist yet.
// A failed attempt is retried on the next call.
func (s *MinioStore) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return storeError(err, "failed to check bucket %q", s.bucket)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return storeError(err, "failed to create bucket %q", s.bucket)
		}
		log.WithField("bucket", s.bucket).Info("Bucket created")
	}

	s.ready = true
	return nil
}

// Get downloads the object to localPath
func (s *MinioStore) Get(ctx context.Context, reference, localPath string) error {
	if err := s.EnsureContainer(ctx); err != nil {
		return err
	}

	err := s.client.FGetObject(ctx, s.bucket, reference, localPath, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return notFound(reference)
		}
		return storeError(err, "failed to download %q", reference)
	}

	log.WithFields(log.Fields{"reference": reference, "path": localPath}).Debug("Downloaded object")
	return nil
}

// Put uploads a local file and returns its reference
func (s *MinioStore) Put(ctx context.Context, localPath, reference, contentType string) (string, error) {
	if err := s.EnsureContainer(ctx); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = ContentTypeFor(localPath)
	}

	_, err := s.client.FPutObject(ctx, s.bucket, reference, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", storeError(err, "failed to upload %q", reference)
	}

	return reference, nil
}

// PutBytes uploads an in-memory payload and returns its reference
func (s *MinioStore) PutBytes(ctx context.Context, data []byte, reference, contentType string) (string, error) {
	if err := s.EnsureContainer(ctx); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, s.bucket, reference, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", storeError(err, "failed to upload %q", reference)
	}

	return reference, nil
}

// Presign generates a time-limited download URL
func (s *MinioStore) Presign(ctx context.Context, reference string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, reference, ttl, nil)
	if err != nil {
		return "", storeError(err, "failed to presign %q", reference)
	}
	return u.String(), nil
}

// Delete removes the object
func (s *MinioStore) Delete(ctx context.Context, reference string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, reference, minio.RemoveObjectOptions{}); err != nil {
		return storeError(err, "failed to delete %q", reference)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
