package profiles

import "context"

// Repo persists profiles.
type Repo interface {
	Get(ctx context.Context, userID string) (Profile, error)
	// Ensure inserts a default free profile when none exists and returns the stored row.
	Ensure(ctx context.Context, userID string) (Profile, error)
	// UpsertSubscription writes status, plan and customer reference without touching upload_count.
	UpsertSubscription(ctx context.Context, userID, customerRef string, status Status, plan Plan) error
	FindByCustomerRef(ctx context.Context, customerRef string) (Profile, error)
	SetStatus(ctx context.Context, userID string, status Status) error
	// AdjustUploadCount adds delta to the cached counter, flooring at zero.
	AdjustUploadCount(ctx context.Context, userID string, delta int) error
	SetUploadCount(ctx context.Context, userID string, count int) error
	ListUserIDs(ctx context.Context) ([]string, error)
}
