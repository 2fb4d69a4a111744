package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/config"
)

var _ ObjectStore = (*S3Store)(nil)

// S3Store implements ObjectStore with the AWS SDK against an S3-compatible endpoint
type S3Store struct {
	s3Client  *s3.Client
	presigner *s3.PresignClient
	bucket    string

	mu    sync.Mutex
	ready bool
}

// NewS3Store creates a new S3 storage client
func NewS3Store(cfg *config.StorageConfig) (*S3Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage configuration incomplete")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)

	if cfg.Endpoint != "" {
		endpoint := endpointURL(cfg.Endpoint, cfg.Secure)
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
			}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Store{
		s3Client:  s3Client,
		presigner: s3.NewPresignClient(s3Client),
		bucket:    cfg.Bucket,
	}, nil
}

// EnsureContainer creates the bucket when HeadBucket reports it missing
func (c *S3Store) EnsureContainer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}

	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var nf *types.NotFound
		if !errors.As(err, &nf) {
			return storeError(err, "failed to check bucket %q", c.bucket)
		}
		if _, err := c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
			return storeError(err, "failed to create bucket %q", c.bucket)
		}
		log.WithField("bucket", c.bucket).Info("Bucket created")
	}

	c.ready = true
	return nil
}

// Get downloads an object into localPath
func (c *S3Store) Get(ctx context.Context, reference, localPath string) error {
	if err := c.EnsureContainer(ctx); err != nil {
		return err
	}

	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(reference),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return notFound(reference)
		}
		return storeError(err, "failed to download %q", reference)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return storeError(err, "failed to create %s", localPath)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return storeError(err, "failed to write %s", localPath)
	}
	return nil
}

// Put uploads a local file
func (c *S3Store) Put(ctx context.Context, localPath, reference, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", storeError(err, "failed to open %s", localPath)
	}
	defer f.Close()

	if contentType == "" {
		contentType = ContentTypeFor(localPath)
	}
	return c.upload(ctx, f, reference, contentType)
}

// PutBytes uploads an in-memory payload
func (c *S3Store) PutBytes(ctx context.Context, data []byte, reference, contentType string) (string, error) {
	return c.upload(ctx, bytes.NewReader(data), reference, contentType)
}

func (c *S3Store) upload(ctx context.Context, body io.Reader, reference, contentType string) (string, error) {
	if err := c.EnsureContainer(ctx); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(reference),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", storeError(err, "failed to upload %q", reference)
	}

	return reference, nil
}

// Presign generates a presigned URL for temporary access
func (c *S3Store) Presign(ctx context.Context, reference string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(reference),
	}

	presignedReq, err := c.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", storeError(err, "failed to presign %q", reference)
	}

	return presignedReq.URL, nil
}

// Delete removes a file from the bucket
func (c *S3Store) Delete(ctx context.Context, reference string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(reference),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return storeError(err, "failed to delete %q", reference)
	}

	return nil
}

func endpointURL(endpoint string, secure bool) string {
	if len(endpoint) > 7 && (endpoint[:7] == "http://" || (len(endpoint) > 8 && endpoint[:8] == "https://")) {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
