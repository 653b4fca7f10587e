// Package objectstore fetches and publishes post-office directories in
// S3-compatible storage (MinIO, AWS S3).
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/memstore"
)

// Bucket reads and writes the objects of one bucket.
type Bucket interface {
	Get(ctx context.Context, object string) (io.ReadCloser, error)
	Put(ctx context.Context, object string, r io.Reader, size int64, contentType string) error
}

// MinIOBucket is a Bucket backed by minio-go.
type MinIOBucket struct {
	client *minio.Client
	name   string
}

// NewMinIO connects to endpoint with static credentials.
func NewMinIO(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinIOBucket, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("objectstore: endpoint, access key and secret key are required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating client: %w", err)
	}
	return &MinIOBucket{client: client, name: bucket}, nil
}

// Get stats object first so a missing object fails here rather than on the first read.
func (b *MinIOBucket) Get(ctx context.Context, object string) (io.ReadCloser, error) {
	if _, err := b.client.StatObject(ctx, b.name, object, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("stat %s/%s: %w", b.name, object, err)
	}
	obj, err := b.client.GetObject(ctx, b.name, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", b.name, object, err)
	}
	return obj, nil
}

// Put uploads object, creating the bucket if needed.
func (b *MinIOBucket) Put(ctx context.Context, object string, r io.Reader, size int64, contentType string) error {
	exists, err := b.client.BucketExists(ctx, b.name)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", b.name, err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", b.name, err)
		}
	}
	if _, err := b.client.PutObject(ctx, b.name, object, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put %s/%s: %w", b.name, object, err)
	}
	return nil
}

// Store moves post-office directories in and out of a Bucket.
type Store struct {
	bucket Bucket
	log    *slog.Logger
}

// New wraps bucket.
func New(bucket Bucket) *Store {
	return &Store{bucket: bucket, log: logger.L()}
}

// LoadDirectory builds a memstore from object. The format follows the object name,
// see memstore.LoadObject.
func (s *Store) LoadDirectory(ctx context.Context, object string, opts ...memstore.Option) (*memstore.Store, error) {
	rc, err := s.bucket.Get(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}
	defer rc.Close()

	st, err := memstore.LoadObject(rc, object, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading %s: %w", object, err)
	}
	s.log.Info("objectstore_directory_loaded", "object", object, "offices", st.Len(), "pincodes", st.Pincodes())
	return st, nil
}

// PublishCache uploads st as a gob cache named object.
func (s *Store) PublishCache(ctx context.Context, object string, st *memstore.Store) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(st.WriteCache(pw))
	}()
	// size -1 streams a multipart upload of unknown length
	if err := s.bucket.Put(ctx, object, pr, -1, "application/octet-stream"); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("objectstore: %w", err)
	}
	s.log.Info("objectstore_cache_published", "object", object, "offices", st.Len())
	return nil
}
