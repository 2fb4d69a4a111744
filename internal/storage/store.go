package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/model"
)

// ObjectStore defines the interface for object storage operations.
// Missing objects are reported with model.ErrNotFound, every other failure
// is marked model.ErrStore.
type ObjectStore interface {
	EnsureContainer(ctx context.Context) error
	Get(ctx context.Context, reference, localPath string) error
	Put(ctx context.Context, localPath, reference, contentType string) (string, error)
	PutBytes(ctx context.Context, data []byte, reference, contentType string) (string, error)
	Presign(ctx context.Context, reference string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, reference string) error
}

// Factory builds a store for the connection parameters a job was submitted with
type Factory func(cfg model.StoreConfig) (ObjectStore, error)

// New creates the default store described by the service configuration
func New(cfg *config.StorageConfig) (ObjectStore, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	case "s3":
		return NewS3Store(cfg)
	case "minio":
		return NewMinioStore(StoreConfigFrom(cfg))
	default:
		return nil, errors.Newf("unknown storage provider %q", cfg.Provider)
	}
}

// StoreConfigFrom converts the service storage settings into the connection
// parameters forwarded with a job.
func StoreConfigFrom(cfg *config.StorageConfig) model.StoreConfig {
	return model.StoreConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Container: cfg.Bucket,
		Secure:    cfg.Secure,
	}
}

var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".zip":  "application/zip",
}

// ContentTypeFor guesses the content type from the file extension
func ContentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func storeError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), model.ErrStore)
}

func notFound(reference string) error {
	return errors.Mark(errors.Newf("object %q not found", reference), model.ErrNotFound)
}
