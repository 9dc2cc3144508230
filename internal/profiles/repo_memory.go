package profiles

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Profile
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Profile),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Get(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.data[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) Ensure(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(userID), nil
}

func (r *MemoryRepo) ensureLocked(userID string) Profile {
	p, ok := r.data[userID]
	if !ok {
		p = newProfile(userID, r.now())
		r.data[userID] = p
	}
	return p
}

func (r *MemoryRepo) UpsertSubscription(ctx context.Context, userID, customerRef string, status Status, plan Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.ensureLocked(userID)
	p.Status = status
	p.Plan = plan
	if customerRef != "" {
		p.CustomerRef = customerRef
	}
	p.UpdatedAt = r.now()
	r.data[userID] = p
	return nil
}

func (r *MemoryRepo) FindByCustomerRef(ctx context.Context, customerRef string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	if customerRef == "" {
		return Profile{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found Profile
		ok    bool
	)
	// Most recently updated wins, ties by user id.
	for _, p := range r.data {
		if p.CustomerRef != customerRef {
			continue
		}
		if !ok || p.UpdatedAt.After(found.UpdatedAt) ||
			(p.UpdatedAt.Equal(found.UpdatedAt) && p.UserID < found.UserID) {
			found, ok = p, true
		}
	}
	if !ok {
		return Profile{}, ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, userID string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.ensureLocked(userID)
	p.Status = status
	p.UpdatedAt = r.now()
	r.data[userID] = p
	return nil
}

func (r *MemoryRepo) AdjustUploadCount(ctx context.Context, userID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.ensureLocked(userID)
	p.UploadCount += delta
	if p.UploadCount < 0 {
		p.UploadCount = 0
	}
	p.UpdatedAt = r.now()
	r.data[userID] = p
	return nil
}

func (r *MemoryRepo) SetUploadCount(ctx context.Context, userID string, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if count < 0 {
		count = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.ensureLocked(userID)
	p.UploadCount = count
	p.UpdatedAt = r.now()
	r.data[userID] = p
	return nil
}

func (r *MemoryRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.data))
	for id := range r.data {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
