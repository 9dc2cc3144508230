package reconcile

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"medsnap-backend/internal/documents"
	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/shared/storage/object"
)

type blobStore struct {
	mu        sync.Mutex
	objects   map[string]time.Time
	deleteErr map[string]error
}

func newBlobStore() *blobStore {
	return &blobStore{objects: map[string]time.Time{}, deleteErr: map[string]error{}}
}

func (b *blobStore) Put(_ context.Context, key, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = time.Now()
	return int64(len(data)), nil
}

func (b *blobStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, object.ErrNotFound
}

func (b *blobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.deleteErr[key]; err != nil {
		return err
	}
	delete(b.objects, key)
	return nil
}

func (b *blobStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (b *blobStore) List(_ context.Context, prefix string) ([]object.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []object.Info
	for k, mod := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, object.Info{Key: k, LastModified: mod})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *blobStore) keys() []string {
	out, _ := b.List(context.Background(), "")
	keys := make([]string, 0, len(out))
	for _, o := range out {
		keys = append(keys, o.Key)
	}
	return keys
}

type fixture struct {
	profiles *profiles.MemoryRepo
	docs     *documents.MemoryRepo
	blobs    *blobStore
	pass     *Pass
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		profiles: profiles.NewMemoryRepo(),
		docs:     documents.NewMemoryRepo(),
		blobs:    newBlobStore(),
		now:      now,
	}
	f.pass = &Pass{
		Profiles:  f.profiles,
		Documents: f.docs,
		Store:     f.blobs,
		Grace:     time.Hour,
		Now:       func() time.Time { return now },
	}
	return f
}

func (f *fixture) addDoc(t *testing.T, owner, id, key string) {
	t.Helper()
	err := f.docs.Create(context.Background(), documents.Document{
		ID:        id,
		UserID:    owner,
		Title:     id,
		Category:  documents.DefaultCategory,
		FilePath:  key,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	})
	if err != nil {
		t.Fatalf("create doc: %v", err)
	}
	f.blobs.objects[key] = f.now.Add(-48 * time.Hour)
}

func TestRunCorrectsDriftedCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDoc(t, "user-a", "d1", "user-a/1-aaaa-a.pdf")
	f.addDoc(t, "user-a", "d2", "user-a/2-bbbb-b.pdf")
	_ = f.profiles.SetUploadCount(ctx, "user-a", 5)
	f.addDoc(t, "user-b", "d3", "user-b/3-cccc-c.pdf")
	_ = f.profiles.SetUploadCount(ctx, "user-b", 1)
	_ = f.profiles.SetUploadCount(ctx, "user-c", 3)

	res, err := f.pass.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ProfilesChecked != 3 || res.CountersCorrected != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	for user, want := range map[string]int{"user-a": 2, "user-b": 1, "user-c": 0} {
		p, _ := f.profiles.Get(ctx, user)
		if p.UploadCount != want {
			t.Fatalf("%s: expected %d, got %d", user, want, p.UploadCount)
		}
	}
}

func TestRunSweepsOnlyOldOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDoc(t, "user-a", "d1", "user-a/1-aaaa-kept.pdf")
	f.blobs.objects["user-a/2-bbbb-orphan.pdf"] = f.now.Add(-2 * time.Hour)
	f.blobs.objects["user-a/3-cccc-inflight.pdf"] = f.now.Add(-10 * time.Minute)

	res, err := f.pass.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BlobsScanned != 3 || res.OrphansDeleted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got := f.blobs.keys()
	want := []string{"user-a/1-aaaa-kept.pdf", "user-a/3-cccc-inflight.pdf"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRunCollectsDeleteFailures(t *testing.T) {
	f := newFixture(t)
	f.blobs.objects["user-a/old.pdf"] = f.now.Add(-3 * time.Hour)
	f.blobs.deleteErr["user-a/old.pdf"] = errors.New("access denied")

	res, err := f.pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OrphansDeleted != 0 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunWithoutStoreSkipsSweep(t *testing.T) {
	f := newFixture(t)
	f.pass.Store = nil
	f.blobs.objects["user-a/old.pdf"] = f.now.Add(-3 * time.Hour)

	res, err := f.pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BlobsScanned != 0 || len(f.blobs.objects) != 1 {
		t.Fatalf("sweep should be skipped, got %+v", res)
	}
}

func TestRunRequiresStores(t *testing.T) {
	if _, err := (&Pass{}).Run(context.Background()); err == nil {
		t.Fatal("expected error for unconfigured pass")
	}
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	f := newFixture(t)
	if _, err := NewScheduler(context.Background(), f.pass, "not a cron"); err == nil {
		t.Fatal("expected invalid cron to fail")
	}

	s, err := NewScheduler(context.Background(), f.pass, "")
	if err != nil {
		t.Fatalf("NewScheduler default: %v", err)
	}
	s.Start()
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
