package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/util"
)

// BlobRoute is where the API serves signed local blobs.
const BlobRoute = "/api/v1/blobs/"

// Store implements object.Store on the local filesystem. Signed URLs point back
// at the API's blob route and carry an HMAC over key and expiry. The content type
// given to Put is kept in a sibling tree so the blob route can serve it back.
type Store struct {
	baseDir  string
	typesDir string
	secret   []byte
	baseURL  string
	now      func() time.Time
}

// New creates a local object store rooted at baseDir.
func New(baseDir, signingSecret, baseURL string) *Store {
	if signingSecret == "" {
		signingSecret = "dev-local-signing"
	}
	return &Store{
		baseDir:  baseDir,
		typesDir: filepath.Clean(baseDir) + ".types",
		secret:   []byte(signingSecret),
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

func (s *Store) resolve(key string) (string, string, error) {
	clean, ok := util.CleanStorageKey(key)
	if !ok {
		return "", "", object.ErrInvalidKey
	}
	return clean, filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Store) typePath(clean string) string {
	return filepath.Join(s.typesDir, filepath.FromSlash(clean))
}

// Put writes the reader to disk at key.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(fullPath)
		return 0, fmt.Errorf("write body: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close file: %w", closeErr)
	}
	if err := s.writeType(clean, contentType); err != nil {
		_ = os.Remove(fullPath)
		return 0, err
	}
	return written, nil
}

func (s *Store) writeType(clean, contentType string) error {
	if contentType == "" {
		return nil
	}
	p := s.typePath(clean)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir types: %w", err)
	}
	if err := os.WriteFile(p, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("write content type: %w", err)
	}
	return nil
}

// ContentType returns the type recorded by Put, or "" when none was given.
func (s *Store) ContentType(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, _, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(s.typePath(clean))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read content type: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, object.ErrNotFound
	}
	return f, err
}

// Delete removes key; a missing file is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if err := os.Remove(s.typePath(clean)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove content type %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a time-limited link served by the API's blob route.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, _, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	exp := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(clean, exp))
	return s.baseURL + BlobRoute + clean + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (s *Store) Verify(key, expRaw, sig string) bool {
	clean, ok := util.CleanStorageKey(key)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.sign(clean, exp)))
}

// List walks the tree under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]object.Info, error) {
	root := s.baseDir
	if p := strings.Trim(prefix, "/"); p != "" {
		clean, ok := util.CleanStorageKey(p)
		if !ok {
			return nil, object.ErrInvalidKey
		}
		root = filepath.Join(s.baseDir, filepath.FromSlash(clean))
	}
	var out []object.Info
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		out = append(out, object.Info{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

func (s *Store) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ object.Store = (*Store)(nil)
