package documents

import (
	"time"

	"medsnap-backend/internal/extract"
)

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Title     string       `json:"title"`
	Category  string       `json:"category"`
	Tags      []string     `json:"tags"`
	Notes     string       `json:"notes,omitempty"`
	SourceURL string       `json:"sourceUrl,omitempty"`
	FilePath  string       `json:"filePath"`
	FileType  extract.Kind `json:"fileType"`
	MimeType  string       `json:"mimeType"`
	SizeBytes int64        `json:"sizeBytes"`
	PageCount *int         `json:"pageCount,omitempty"`
	FileURL   string       `json:"fileUrl"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// ListResponse wraps a filtered listing.
type ListResponse struct {
	Documents  []DocumentResponse `json:"documents"`
	Total      int                `json:"total"`
	Categories []string           `json:"categories"`
}

type categoryRequest struct {
	Category string `json:"category" binding:"required,max=64"`
}

func toResponse(doc Document) DocumentResponse {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	return DocumentResponse{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Title:     doc.Title,
		Category:  doc.EffectiveCategory(),
		Tags:      tags,
		Notes:     doc.Notes,
		SourceURL: doc.SourceURL,
		FilePath:  doc.FilePath,
		FileType:  doc.FileType,
		MimeType:  doc.MimeType,
		SizeBytes: doc.SizeBytes,
		PageCount: doc.PageCount,
		FileURL:   doc.SignedURL,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func withWarnings(resp DocumentResponse, outcome Outcome) DocumentResponse {
	if outcome.BlobCleanupFailed {
		resp.Warnings = append(resp.Warnings, "blob_cleanup_failed")
	}
	if outcome.CounterUpdateFailed {
		resp.Warnings = append(resp.Warnings, "counter_update_failed")
	}
	return resp
}
