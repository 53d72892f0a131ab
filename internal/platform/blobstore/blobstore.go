// Package blobstore stores exam attachments. Objects are addressed by key;
// reads go through short-lived presigned URLs instead of being proxied.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKey         = errors.New("blob key is required")
)

// MaxFileSize is the maximum accepted attachment size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// AllowedContentTypes lists the media types accepted for exam files.
var AllowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"text/plain":      ".txt",
}

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is implemented by the GCS and in-memory backends.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	// EnsureBucket verifies (and where possible creates) the backing bucket.
	// It is an explicit startup step.
	EnsureBucket(ctx context.Context) error
}

// NormalizeContentType strips parameters and validates the media type.
func NormalizeContentType(contentType string) (string, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, contentType)
	}
	if _, ok := AllowedContentTypes[mt]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, mt)
	}
	return mt, nil
}

// ExamKey builds the object key for an exam attachment. Keys are unique per
// upload so replacing a file never overwrites a URL already handed out.
func ExamKey(companyID, planID uuid.UUID, examIndex int, contentType string) string {
	ext := AllowedContentTypes[contentType]
	return path.Join("companies", companyID.String(), "plans", planID.String(),
		"exams", fmt.Sprintf("%d", examIndex), uuid.NewString()+ext)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
