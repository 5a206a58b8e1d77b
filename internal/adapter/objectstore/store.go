// Package objectstore persists rendered artifacts in an S3-compatible bucket
// and issues presigned read links for them.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the artifact bucket.
// It implements pipeline.ArtifactStore and pipeline.LinkSigner.
type Store struct {
	client  *minio.Client
	bucket  string
	signing bool
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// New creates a client for the configured endpoint. No request is made until
// the first operation. Without credentials the client is anonymous and
// SignedURL returns domain.ErrLinkUnsupported.
func New(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	creds := credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	if cfg.Signing() {
		creds = credentials.NewStaticV4(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, "")
	}
	client, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.ObjectStoreUseSSL,
		Region: cfg.ObjectStoreRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{
		client:  client,
		bucket:  cfg.ArtifactBucket,
		signing: cfg.Signing(),
		timeout: cfg.StoreTimeout,
		logger:  logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist. Losing a creation race
// to another worker counts as success.
func (s *Store) EnsureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %w", domain.ErrTransport, s.bucket, err)
	}
	if !exists {
		err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("%w: create bucket %s: %w", domain.ErrTransport, s.bucket, err)
		}
		s.logger.Info("artifact bucket created", "bucket", s.bucket)
	}
	s.bucketReady = true
	return nil
}

// Put uploads size bytes from r under key. Artifacts are immutable: an
// existing object under key fails the upload with domain.ErrArtifactExists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := s.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return fmt.Errorf("%w: %w: %s", domain.ErrUpload, domain.ErrArtifactExists, key)
	case errorCode(err) != "NoSuchKey":
		return fmt.Errorf("%w: stat %s: %w", domain.ErrUpload, key, err)
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("%w: put %s: %w", domain.ErrUpload, key, err)
	}
	return nil
}

// List returns every object under prefix in key order. A bucket that does not
// exist yet lists as empty.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []domain.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			if errorCode(obj.Err) == "NoSuchBucket" {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: list %s: %w", domain.ErrTransport, prefix, obj.Err)
		}
		out = append(out, domain.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// Open returns a reader for key. The caller closes it.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, domain.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.ObjectInfo{}, fmt.Errorf("%w: get %s: %w", domain.ErrTransport, key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		switch errorCode(err) {
		case "NoSuchKey", "NoSuchBucket":
			return nil, domain.ObjectInfo{}, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, key)
		}
		return nil, domain.ObjectInfo{}, fmt.Errorf("%w: stat %s: %w", domain.ErrTransport, key, err)
	}
	return obj, domain.ObjectInfo{Key: st.Key, Size: st.Size, LastModified: st.LastModified}, nil
}

// SignedURL returns a presigned GET URL for key valid for ttl.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !s.signing {
		return "", domain.ErrLinkUnsupported
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", domain.ErrTransport, key, err)
	}
	return u.String(), nil
}

// CheckReadiness reports whether the store answers a bucket lookup.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	switch errorCode(err) {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

func errorCode(err error) string {
	return minio.ToErrorResponse(err).Code
}
