package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig selects the bucket. SignerEmail and SignerKey are only needed
// when the ambient credentials cannot sign URLs themselves.
type GCSConfig struct {
	Bucket      string
	ProjectID   string
	Location    string
	SignerEmail string
	SignerKey   []byte
}

// GCSStore keeps attachments in a Google Cloud Storage bucket and hands out
// V4 signed URLs.
type GCSStore struct {
	client *storage.Client
	cfg    GCSConfig
	now    func() time.Time
}

func NewGCSStore(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, cfg: cfg, now: time.Now}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) bucket() *storage.BucketHandle { return s.client.Bucket(s.cfg.Bucket) }

func (s *GCSStore) Upload(ctx context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}

	// Cancelling the writer's context aborts the upload without committing.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.bucket().Object(key).NewWriter(ctx)
	w.ContentType = ct
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		cancel()
		_ = w.Close()
		return nil, fmt.Errorf("write object %s: %w", key, err)
	}
	if n > MaxFileSize {
		cancel()
		_ = w.Close()
		return nil, ErrFileTooLarge
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close object %s: %w", key, err)
	}

	return &Object{
		Key:         key,
		ContentType: ct,
		Size:        n,
		Hash:        hex.EncodeToString(h.Sum(nil)),
		CreatedAt:   s.now().UTC(),
	}, nil
}

func (s *GCSStore) PresignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: s.now().Add(ttl),
	}
	if s.cfg.SignerEmail != "" {
		opts.GoogleAccessID = s.cfg.SignerEmail
		opts.PrivateKey = s.cfg.SignerKey
	}
	u, err := s.bucket().SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return u, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket().Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrBlobNotFound
	}
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it is missing and a project is
// configured; otherwise a missing bucket is an error.
func (s *GCSStore) EnsureBucket(ctx context.Context) error {
	_, err := s.bucket().Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("inspect bucket %s: %w", s.cfg.Bucket, err)
	}
	if s.cfg.ProjectID == "" {
		return fmt.Errorf("bucket %s does not exist and GCS_PROJECT_ID is not set", s.cfg.Bucket)
	}
	attrs := &storage.BucketAttrs{
		Location:                 s.cfg.Location,
		UniformBucketLevelAccess: storage.UniformBucketLevelAccess{Enabled: true},
	}
	if err := s.bucket().Create(ctx, s.cfg.ProjectID, attrs); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
