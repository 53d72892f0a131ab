package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

type storedBlob struct {
	object  Object
	content []byte
}

type grant struct {
	key     string
	expires time.Time
}

// InMemoryBlobStore is a thread-safe BlobStore for development and tests.
// Presigned URLs point at DownloadHandler and carry a one-off token.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	grants  map[string]grant
	baseURL string
	now     func() time.Time
}

// NewInMemoryBlobStore returns a store whose presigned URLs start with baseURL.
func NewInMemoryBlobStore(baseURL string) *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:   make(map[string]*storedBlob),
		grants:  make(map[string]grant),
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	h := sha256.Sum256(data)
	obj := Object{
		Key:         key,
		ContentType: ct,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(h[:]),
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{object: obj, content: data}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *InMemoryBlobStore) PresignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return "", ErrBlobNotFound
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	s.grants[token] = grant{key: key, expires: now.Add(ttl)}
	s.pruneGrants(now)

	q := url.Values{}
	q.Set("token", token)
	return s.baseURL + "/" + key + "?" + q.Encode(), nil
}

// pruneGrants drops expired tokens. Callers hold mu.
func (s *InMemoryBlobStore) pruneGrants(now time.Time) {
	for tok, g := range s.grants {
		if now.After(g.expires) {
			delete(s.grants, tok)
		}
	}
}

// Open returns the blob for key if token is a live grant for it.
func (s *InMemoryBlobStore) Open(key, token string) (io.Reader, *Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[token]
	if !ok || g.key != key || s.now().After(g.expires) {
		return nil, nil, ErrBlobNotFound
	}
	blob, ok := s.blobs[key]
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := blob.object
	return bytes.NewReader(blob.content), &obj, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *InMemoryBlobStore) EnsureBucket(context.Context) error { return nil }

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
