package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/queue"
	"medsnap-backend/internal/quota"
	"medsnap-backend/internal/shared/kv"
	"medsnap-backend/internal/shared/storage/object"
)

var errBoom = errors.New("boom")

type fakeStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	failDelete map[string]bool
	failSign   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: map[string][]byte{}, failDelete: map[string]bool{}}
}

func (f *fakeStore) Put(_ context.Context, key, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return int64(len(data)), nil
}

func (f *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[key] || f.failDelete["*"] {
		return errBoom
	}
	delete(f.blobs, key)
	return nil
}

func (f *fakeStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if f.failSign {
		return "", errBoom
	}
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]object.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []object.Info
	for k, v := range f.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, object.Info{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

// failingRepo wraps MemoryRepo and fails selected writes.
type failingRepo struct {
	*MemoryRepo
	failCreate bool
	failUpdate bool
}

func (r *failingRepo) Create(ctx context.Context, doc Document) error {
	if r.failCreate {
		return errBoom
	}
	return r.MemoryRepo.Create(ctx, doc)
}

func (r *failingRepo) Update(ctx context.Context, doc Document) error {
	if r.failUpdate {
		return errBoom
	}
	return r.MemoryRepo.Update(ctx, doc)
}

type failingProfiles struct {
	*profiles.Service
}

func (failingProfiles) IncrementUploads(context.Context, string) error { return errBoom }
func (failingProfiles) DecrementUploads(context.Context, string) error { return errBoom }

type testEnv struct {
	svc      *Service
	repo     *MemoryRepo
	store    *fakeStore
	profiles *profiles.MemoryRepo
	queue    *queue.MemoryClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewMemoryRepo()
	store := newFakeStore()
	profileRepo := profiles.NewMemoryRepo()
	q := queue.NewMemoryClient()
	clock := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	seq := 0
	svc := &Service{
		Repo:        repo,
		Store:       store,
		Profiles:    profiles.NewService(profileRepo),
		Gate:        quota.NewGate(10),
		Queue:       q,
		Idempotency: kv.NewMemoryStore(nil),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		RandSuffix: func() string {
			seq++
			return fmt.Sprintf("%08x", seq)
		},
	}
	return &testEnv{svc: svc, repo: repo, store: store, profiles: profileRepo, queue: q}
}

func pdfUpload(name string) Upload {
	return Upload{FileName: name, ContentType: "application/pdf", Data: []byte("%PDF-1.4\n%fake\n")}
}

func meta(title string) Metadata {
	return Metadata{Title: title, ConfirmNoPHI: true}
}

func mustCreate(t *testing.T, env *testEnv, owner, title string) Document {
	t.Helper()
	doc, _, err := env.svc.Create(context.Background(), owner, meta(title), pdfUpload(title+".pdf"), "")
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return doc
}
