package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrMissingEndpoint is returned when no MinIO endpoint is configured.
	ErrMissingEndpoint = errors.New("minio endpoint is required")
	// ErrMissingBucket is returned when no MinIO bucket is configured.
	ErrMissingBucket = errors.New("minio bucket is required")
)

// MinioConfig holds the connection details for an S3-compatible store.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	UseSSL     bool
	PublicBase string
}

// MinioObjectStore implements core.BlobStore on an S3-compatible bucket.
type MinioObjectStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinio connects to the endpoint and makes sure the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*MinioObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for '%s': %w", cfg.Endpoint, err)
	}

	store := &MinioObjectStore{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
	}

	err = store.ensureBucket(ctx)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func (m *MinioObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket '%s': %w", m.bucket, err)
	}

	if exists {
		return nil
	}

	err = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", m.bucket, err)
	}

	return nil
}

// Upload puts data under name and returns its public URL and stored size.
func (m *MinioObjectStore) Upload(
	ctx context.Context,
	name string,
	data []byte,
	contentType string,
) (core.BlobInfo, error) {
	info, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return core.BlobInfo{}, fmt.Errorf("failed to put object '%s' to bucket '%s': %w", name, m.bucket, err)
	}

	return core.BlobInfo{URL: m.PublicURL(name), Size: info.Size}, nil
}

// Download reads the object stored under name.
func (m *MinioObjectStore) Download(ctx context.Context, name string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", name, m.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", name, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", name, closeErr)
	}

	return data, nil
}

// PublicURL returns the address under which name is served.
func (m *MinioObjectStore) PublicURL(name string) string {
	if m.publicBase != "" {
		return m.publicBase + "/" + name
	}

	return fmt.Sprintf("%s/%s/%s", m.client.EndpointURL().String(), m.bucket, name)
}
