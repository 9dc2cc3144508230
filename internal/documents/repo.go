package documents

import "context"

// Repo defines persistence operations for documents. Every owner-scoped method
// returns ErrNotFound for an id that belongs to another owner.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, userID, id string) (Document, error)
	ListByOwner(ctx context.Context, userID string) ([]Document, error)
	CountByOwner(ctx context.Context, userID string) (int, error)
	// Update overwrites the mutable columns of an existing row.
	Update(ctx context.Context, doc Document) error
	UpdateCategory(ctx context.Context, userID, id, category string) (Document, error)
	Delete(ctx context.Context, userID, id string) error
	// ListAllPaths returns every stored file_path; used by the orphan sweep.
	ListAllPaths(ctx context.Context) (map[string]struct{}, error)
}
