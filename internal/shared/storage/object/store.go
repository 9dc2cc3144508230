package object

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Open for a missing key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey rejects empty, absolute or traversing keys.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Info describes a stored object as returned by List.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the blob contract used by the catalog, the reconciler and the cleanup worker.
// Keys are owner-scoped paths such as "<owner>/<millis>-<rand>-<name>"; Delete of a
// missing key succeeds.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]Info, error)
}
