package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"google.golang.org/api/option"
)

func seedBlob(t *testing.T, store *InMemoryBlobStore, key, content string) *Object {
	t.Helper()
	obj, err := store.Upload(context.Background(), key, "text/plain", strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return obj
}

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"application/pdf", "application/pdf", false},
		{"image/png", "image/png", false},
		{"IMAGE/JPEG", "image/jpeg", false},
		{"text/plain; charset=utf-8", "text/plain", false},
		{"text/html", "", true},
		{"application/octet-stream", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeContentType(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidContentType) {
				t.Errorf("NormalizeContentType(%q): expected ErrInvalidContentType, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeContentType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestExamKey(t *testing.T) {
	company := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	planID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := ExamKey(company, planID, 2, "application/pdf")

	prefix := "companies/11111111-1111-1111-1111-111111111111/plans/22222222-2222-2222-2222-222222222222/exams/2/"
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Errorf("expected .pdf extension, got %s", key)
	}
	if ExamKey(company, planID, 2, "application/pdf") == key {
		t.Error("expected a fresh key per upload")
	}
}

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore("http://localhost/blobs")
	obj, err := store.Upload(context.Background(), "a/b.txt", "text/plain; charset=utf-8", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.ContentType != "text/plain" {
		t.Errorf("expected normalized content type, got %s", obj.ContentType)
	}
	if obj.Size != 11 {
		t.Errorf("expected size 11, got %d", obj.Size)
	}
	if obj.Hash != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("unexpected hash %s", obj.Hash)
	}
}

func TestInMemoryBlobStore_UploadRejects(t *testing.T) {
	store := NewInMemoryBlobStore("")
	ctx := context.Background()

	if _, err := store.Upload(ctx, "x.html", "text/html", strings.NewReader("<p>")); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
	if _, err := store.Upload(ctx, "", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for empty key, got %v", err)
	}
	if _, err := store.Upload(ctx, "../escape", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for traversal, got %v", err)
	}
	big := io.LimitReader(zeroReader{}, MaxFileSize+1)
	if _, err := store.Upload(ctx, "big.pdf", "application/pdf", big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore("")
	seedBlob(t, store, "k.txt", "x")

	if err := store.Delete(context.Background(), "k.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), "k.txt"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryBlobStore_PresignUnknownKey(t *testing.T) {
	store := NewInMemoryBlobStore("")
	if _, err := store.PresignURL(context.Background(), "missing", time.Minute); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func presignedRequest(t *testing.T, store *InMemoryBlobStore, key string, ttl time.Duration) *http.Request {
	t.Helper()
	raw, err := store.PresignURL(context.Background(), key, ttl)
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
}

func TestDownloadHandler_ServesPresignedURL(t *testing.T) {
	store := NewInMemoryBlobStore("http://localhost:8000/blobs")
	seedBlob(t, store, "companies/c/plans/p/exams/0/f.txt", "resultado")

	e := echo.New()
	NewDownloadHandler(store).RegisterRoutes(e, "/blobs")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, presignedRequest(t, store, "companies/c/plans/p/exams/0/f.txt", time.Minute))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "resultado" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/plain" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestDownloadHandler_RejectsExpiredAndForeignTokens(t *testing.T) {
	store := NewInMemoryBlobStore("http://localhost:8000/blobs")
	seedBlob(t, store, "a.txt", "a")
	seedBlob(t, store, "b.txt", "b")

	e := echo.New()
	NewDownloadHandler(store).RegisterRoutes(e, "/blobs")

	// token for a.txt used on b.txt
	req := presignedRequest(t, store, "a.txt", time.Minute)
	req.URL.Path = "/blobs/b.txt"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign token, got %d", rec.Code)
	}

	req = presignedRequest(t, store, "a.txt", time.Minute)
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for expired token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/a.txt", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without token, got %d", rec.Code)
	}
}

func TestGCSStore_PresignURL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var pemKey bytes.Buffer
	if err := pem.Encode(&pemKey, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		t.Fatalf("encode key: %v", err)
	}

	store, err := NewGCSStore(context.Background(), GCSConfig{
		Bucket:      "exam-files",
		SignerEmail: "planner@example.iam.gserviceaccount.com",
		SignerKey:   pemKey.Bytes(),
	}, option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewGCSStore: %v", err)
	}
	defer store.Close()

	raw, err := store.PresignURL(context.Background(), "companies/c/exam.pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(u.Path, "exam-files/companies/c/exam.pdf") {
		t.Errorf("unexpected path %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Goog-Algorithm") != "GOOG4-RSA-SHA256" {
		t.Errorf("expected V4 signing, got %q", q.Get("X-Goog-Algorithm"))
	}
	if exp := q.Get("X-Goog-Expires"); exp != "900" && exp != "899" {
		t.Errorf("expected a 15 minute expiry, got %q", exp)
	}
	if q.Get("X-Goog-Signature") == "" {
		t.Error("expected a signature")
	}
}

func TestNewGCSStore_RequiresBucket(t *testing.T) {
	if _, err := NewGCSStore(context.Background(), GCSConfig{}, option.WithoutAuthentication()); err == nil {
		t.Fatal("expected error without bucket")
	}
}
