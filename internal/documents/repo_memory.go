package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document // id -> document
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[doc.ID]; exists {
		return ErrInvalidInput
	}
	for _, existing := range r.data {
		if existing.FilePath == doc.FilePath {
			return ErrInvalidInput
		}
	}
	r.data[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok || doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, userID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Document, 0)
	for _, doc := range r.data {
		if doc.UserID == userID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) CountByOwner(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, doc := range r.data {
		if doc.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Update(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[doc.ID]
	if !ok || existing.UserID != doc.UserID {
		return ErrNotFound
	}
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = r.now()
	r.data[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *MemoryRepo) UpdateCategory(ctx context.Context, userID, id, category string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok || doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	doc.Category = category
	doc.UpdatedAt = r.now()
	r.data[id] = doc
	return cloneDocument(doc), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok || doc.UserID != userID {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func (r *MemoryRepo) ListAllPaths(ctx context.Context) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.data))
	for _, doc := range r.data {
		out[doc.FilePath] = struct{}{}
	}
	return out, nil
}

func cloneDocument(doc Document) Document {
	doc.Tags = append([]string(nil), doc.Tags...)
	if doc.PageCount != nil {
		n := *doc.PageCount
		doc.PageCount = &n
	}
	doc.SignedURL = ""
	return doc
}

var _ Repo = (*MemoryRepo)(nil)
