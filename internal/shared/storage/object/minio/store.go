// Package minio stores blobs on any S3-compatible endpoint through minio-go.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/telemetry"
	"medsnap-backend/internal/shared/util"
)

// Options configures the endpoint and bucket.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Store implements object.Store with a minio client.
type Store struct {
	client *miniogo.Client
	bucket string
}

// New connects to the endpoint and creates the bucket when it is missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	endpoint, secure := endpointHost(opts.Endpoint, opts.UseSSL)
	if endpoint == "" {
		return nil, fmt.Errorf("S3_ENDPOINT is required for OBJECT_STORE=minio")
	}

	cli, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	cli.SetAppInfo("medsnap", "1")

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, miniogo.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		telemetry.Info("storage.bucket_created", map[string]any{"bucket": opts.Bucket})
	}

	return &Store{client: cli, bucket: opts.Bucket}, nil
}

func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	clean, ok := util.CleanStorageKey(key)
	if !ok {
		return 0, object.ErrInvalidKey
	}
	info, err := s.client.PutObject(ctx, s.bucket, clean, r, -1, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("minio put bucket=%s key=%s: %w", s.bucket, clean, err)
	}
	return info.Size, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, miniogo.StatObjectOptions{}); err != nil {
		if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("minio stat bucket=%s key=%s: %w", s.bucket, key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return obj, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio remove bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("minio presign bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return u.String(), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]object.Info, error) {
	listPrefix := strings.Trim(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}
	// stops the listing goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []object.Info
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list bucket=%s prefix=%s: %w", s.bucket, listPrefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, object.Info{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC(),
		})
	}
	return out, nil
}

// endpointHost accepts either a bare host or a full URL and reports whether TLS applies.
func endpointHost(raw string, useSSL bool) (string, bool) {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host, u.Scheme == "https"
	}
	return raw, useSSL
}

var _ object.Store = (*Store)(nil)
