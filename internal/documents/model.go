package documents

import (
	"time"

	"medsnap-backend/internal/extract"
)

// DefaultCategory is used when a document has no category.
const DefaultCategory = "General"

// Document is a stored clinical guideline owned by a user. FilePath is the storage key,
// never a URL; SignedURL is derived per read and not persisted.
type Document struct {
	ID        string
	UserID    string
	Title     string
	Category  string
	Tags      []string
	Notes     string
	SourceURL string
	FilePath  string
	FileType  extract.Kind
	MimeType  string
	SizeBytes int64
	PageCount *int
	CreatedAt time.Time
	UpdatedAt time.Time

	SignedURL string
}

// EffectiveCategory returns the category, treating empty as General.
func (d Document) EffectiveCategory() string {
	if d.Category == "" {
		return DefaultCategory
	}
	return d.Category
}

// Metadata is the user-supplied part of a new document.
type Metadata struct {
	Title        string   `validate:"required,max=200"`
	Category     string   `validate:"max=64"`
	Tags         []string `validate:"max=20,dive,min=1,max=40"`
	Notes        string   `validate:"max=5000"`
	SourceURL    string   `validate:"omitempty,httpurl"`
	ConfirmNoPHI bool     `validate:"required"`
}

// Updates carries optional metadata changes; nil fields are left alone.
type Updates struct {
	Title        *string
	Category     *string
	Tags         *[]string
	Notes        *string
	SourceURL    *string
	ConfirmNoPHI bool
}

// Upload is a file received from the client.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Outcome reports best-effort steps that did not succeed. The primary operation
// still succeeded (or failed for its own reason) when any flag is set.
type Outcome struct {
	BlobCleanupFailed   bool
	CounterUpdateFailed bool
	CleanupEnqueued     bool
}

// Clean reports whether every best-effort step succeeded.
func (o Outcome) Clean() bool {
	return !o.BlobCleanupFailed && !o.CounterUpdateFailed
}
