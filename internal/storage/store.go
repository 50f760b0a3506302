// Package storage provides the object-store adapter used by the conversion
// pipeline: blob upload, read access, and time-limited signed URLs.
//
// The default implementation keeps objects on the local filesystem and signs
// URLs with an HMAC so the external model provider can fetch an otherwise
// private image for the validity window. The adapter is deliberately thin;
// the pipeline treats it as a leaf dependency behind the ObjectStore
// interface so tests can substitute a double.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPath is returned for object keys that escape the store root or
// contain empty segments.
var ErrInvalidPath = errors.New("invalid object path")

// ErrBadSignature is returned when a signed URL fails verification.
var ErrBadSignature = errors.New("bad or expired signature")

// ObjectStore is the contract the pipeline and trigger require from blob
// storage.
type ObjectStore interface {
	// Put stores the content of r under the given object path, overwriting
	// any existing object.
	Put(ctx context.Context, objectPath string, r io.Reader) error
	// Open returns a reader for the object, or an error when it is missing.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
	// SignedURL issues a time-limited, externally fetchable URL granting
	// read access to the object.
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// DiskStore is a filesystem-backed ObjectStore. Signed URLs point at the
// service's own /files endpoint and carry an HMAC-SHA256 of path and expiry.
type DiskStore struct {
	root    string
	baseURL string
	secret  []byte
}

// NewDiskStore constructs a DiskStore rooted at root. baseURL is the
// externally reachable origin of this service (e.g. "https://api.example.com");
// secret keys the URL signatures.
func NewDiskStore(root, baseURL, secret string) (*DiskStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root must not be empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("storage secret must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
	}, nil
}

// cleanPath validates and normalizes an object path. Rejects absolute paths,
// parent traversal, and empty segments.
func cleanPath(objectPath string) (string, error) {
	p := strings.TrimSpace(objectPath)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// Put implements ObjectStore.
func (s *DiskStore) Put(_ context.Context, objectPath string, r io.Reader) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	full := filepath.Join(s.root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.Create(full)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Open implements ObjectStore.
func (s *DiskStore) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.root, filepath.FromSlash(p)))
}

// SignedURL implements ObjectStore. The object must exist; issuing a URL for
// a missing object is reported as an error so the pipeline can fail fast.
func (s *DiskStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(p))); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	sig := s.sign(p, exp)
	return fmt.Sprintf("%s/files/%s?exp=%d&sig=%s", s.baseURL, urlEscapePath(p), exp, sig), nil
}

// Verify checks the expiry and signature of a signed-URL request. exp is the
// unix timestamp from the URL; sig is the hex HMAC.
func (s *DiskStore) Verify(objectPath string, exp int64, sig string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	if exp < time.Now().Unix() {
		return ErrBadSignature
	}
	want := s.sign(p, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// FilePath maps a validated object path to its on-disk location. Callers must
// Verify first.
func (s *DiskStore) FilePath(objectPath string) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// sign computes the hex HMAC-SHA256 over "path\nexpiry".
func (s *DiskStore) sign(objectPath string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(objectPath))
	mac.Write([]byte("\n"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// urlEscapePath escapes each path segment while preserving separators.
func urlEscapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
