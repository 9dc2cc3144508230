package documents

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"medsnap-backend/internal/extract"
	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/queue"
	"medsnap-backend/internal/quota"
	"medsnap-backend/internal/shared/kv"
	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/rule"
	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/telemetry"
	"medsnap-backend/internal/shared/util"
)

const (
	defaultSignedURLTTL    = time.Hour
	idempotencyTTL         = 24 * time.Hour
	pendingTTL             = 2 * time.Minute
	pendingMarker          = "pending"
	defaultIdempotencyWait = 10 * time.Second
	idempotencyPoll        = 50 * time.Millisecond
)

// ProfileStore is the slice of the profiles service the catalog needs.
type ProfileStore interface {
	Status(ctx context.Context, userID string) (profiles.Status, error)
	IncrementUploads(ctx context.Context, userID string) error
	DecrementUploads(ctx context.Context, userID string) error
}

// Service contains business logic for documents.
type Service struct {
	Repo     Repo
	Store    object.Store
	Profiles ProfileStore
	Gate     quota.Gate
	// Queue receives blob.delete messages when a best-effort delete fails. Optional.
	Queue queue.Client
	// Idempotency remembers Idempotency-Key headers on upload. Optional.
	Idempotency kv.Store
	// IdempotencyWait bounds how long a repeated key waits for the first upload.
	IdempotencyWait time.Duration
	SignedURLTTL    time.Duration
	MaxUploadBytes  int64

	Now        func() time.Time
	RandSuffix func() string
}

// Create validates, gates, stores and records a new document.
func (s *Service) Create(ctx context.Context, userID string, meta Metadata, file Upload, idempotencyKey string) (Document, Outcome, error) {
	var outcome Outcome
	if strings.TrimSpace(userID) == "" {
		return Document{}, outcome, ErrInvalidInput
	}
	claim, replayed, err := s.claimUpload(ctx, userID, idempotencyKey)
	if err != nil {
		return Document{}, outcome, err
	}
	if replayed != nil {
		return *replayed, outcome, nil
	}
	defer claim.release(ctx)

	meta = normalizeMetadata(meta)
	if err := validateMetadata(meta); err != nil {
		metrics.IncDocumentOp("create", "invalid")
		return Document{}, outcome, err
	}
	if err := s.checkFile(file); err != nil {
		metrics.IncDocumentOp("create", "invalid")
		return Document{}, outcome, err
	}

	status, err := s.Profiles.Status(ctx, userID)
	if err != nil {
		return Document{}, outcome, fmt.Errorf("load subscription status: %w", err)
	}
	count, err := s.Repo.CountByOwner(ctx, userID)
	if err != nil {
		return Document{}, outcome, fmt.Errorf("count documents: %w", err)
	}
	if !s.gate().CanUpload(count, status) {
		metrics.IncQuotaRejected()
		metrics.IncDocumentOp("create", "quota")
		telemetry.Info("documents.quota_rejected", map[string]any{
			"user_id":    userID,
			"count":      count,
			"status":     string(status),
			"free_limit": s.gate().FreeLimit,
		})
		return Document{}, outcome, ErrQuotaExceeded
	}

	mimeType, kind, err := extract.Inspect(file.ContentType, file.Data)
	if err != nil {
		metrics.IncDocumentOp("create", "unsupported")
		return Document{}, outcome, fmt.Errorf("%w: %s", ErrUnsupportedFileType, mimeType)
	}

	now := s.now()
	key := BlobKey(userID, file.FileName, now, s.suffix())
	size, err := s.Store.Put(ctx, key, mimeType, bytes.NewReader(file.Data))
	if err != nil {
		metrics.IncDocumentOp("create", "error")
		return Document{}, outcome, fmt.Errorf("store blob: %w", err)
	}

	doc := Document{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     meta.Title,
		Category:  meta.Category,
		Tags:      meta.Tags,
		Notes:     meta.Notes,
		SourceURL: meta.SourceURL,
		FilePath:  key,
		FileType:  kind,
		MimeType:  mimeType,
		SizeBytes: size,
		PageCount: s.pageCount(ctx, kind, file.Data, key),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		s.discardBlob(ctx, userID, key, "create_insert_failed", &outcome)
		metrics.IncDocumentOp("create", "error")
		return Document{}, outcome, fmt.Errorf("insert document: %w", err)
	}

	if err := s.Profiles.IncrementUploads(ctx, userID); err != nil {
		outcome.CounterUpdateFailed = true
		metrics.IncCompensationGap("counter_update")
		telemetry.Error("documents.counter_update_failed", map[string]any{
			"user_id":     userID,
			"document_id": doc.ID,
			"delta":       1,
			"error":       err.Error(),
		})
	}

	claim.complete(ctx, doc.ID)
	s.sign(ctx, &doc)
	metrics.IncDocumentOp("create", "ok")
	telemetry.Info("documents.created", map[string]any{
		"user_id":     userID,
		"document_id": doc.ID,
		"file_type":   string(doc.FileType),
		"size_bytes":  doc.SizeBytes,
	})
	return doc, outcome, nil
}

// Update applies metadata changes and, when file is non-nil, swaps the stored blob.
// The old blob is removed only after the row points at the new one.
func (s *Service) Update(ctx context.Context, userID, id string, upd Updates, file *Upload) (Document, Outcome, error) {
	var outcome Outcome
	id, err := documentID(id)
	if err != nil {
		return Document{}, outcome, err
	}
	existing, err := s.Repo.Get(ctx, userID, id)
	if err != nil {
		return Document{}, outcome, err
	}

	doc := applyUpdates(existing, upd)
	meta := Metadata{
		Title:        doc.Title,
		Category:     doc.Category,
		Tags:         doc.Tags,
		Notes:        doc.Notes,
		SourceURL:    doc.SourceURL,
		ConfirmNoPHI: file == nil || upd.ConfirmNoPHI,
	}
	if err := validateMetadata(meta); err != nil {
		metrics.IncDocumentOp("update", "invalid")
		return Document{}, outcome, err
	}

	var newKey string
	if file != nil {
		if err := s.checkFile(*file); err != nil {
			metrics.IncDocumentOp("update", "invalid")
			return Document{}, outcome, err
		}
		mimeType, kind, err := extract.Inspect(file.ContentType, file.Data)
		if err != nil {
			metrics.IncDocumentOp("update", "unsupported")
			return Document{}, outcome, fmt.Errorf("%w: %s", ErrUnsupportedFileType, mimeType)
		}
		newKey = BlobKey(userID, file.FileName, s.now(), s.suffix())
		size, err := s.Store.Put(ctx, newKey, mimeType, bytes.NewReader(file.Data))
		if err != nil {
			metrics.IncDocumentOp("update", "error")
			return Document{}, outcome, fmt.Errorf("store blob: %w", err)
		}
		doc.FilePath = newKey
		doc.FileType = kind
		doc.MimeType = mimeType
		doc.SizeBytes = size
		doc.PageCount = s.pageCount(ctx, kind, file.Data, newKey)
	}

	if err := s.Repo.Update(ctx, doc); err != nil {
		if newKey != "" {
			s.discardBlob(ctx, userID, newKey, "update_row_failed", &outcome)
		}
		metrics.IncDocumentOp("update", "error")
		return Document{}, outcome, fmt.Errorf("update document: %w", err)
	}
	if newKey != "" && existing.FilePath != newKey {
		s.discardBlob(ctx, userID, existing.FilePath, "replaced", &outcome)
	}

	doc.UpdatedAt = s.now()
	s.sign(ctx, &doc)
	metrics.IncDocumentOp("update", "ok")
	return doc, outcome, nil
}

// Delete removes the blob (best effort), the row, and decrements the upload counter.
func (s *Service) Delete(ctx context.Context, userID, id string) (Outcome, error) {
	var outcome Outcome
	id, err := documentID(id)
	if err != nil {
		return outcome, err
	}
	doc, err := s.Repo.Get(ctx, userID, id)
	if err != nil {
		return outcome, err
	}

	s.discardBlob(ctx, userID, doc.FilePath, "document_deleted", &outcome)

	if err := s.Repo.Delete(ctx, userID, id); err != nil {
		metrics.IncDocumentOp("delete", "error")
		return outcome, fmt.Errorf("delete document: %w", err)
	}

	if err := s.Profiles.DecrementUploads(ctx, userID); err != nil {
		outcome.CounterUpdateFailed = true
		metrics.IncCompensationGap("counter_update")
		telemetry.Error("documents.counter_update_failed", map[string]any{
			"user_id":     userID,
			"document_id": id,
			"delta":       -1,
			"error":       err.Error(),
		})
	}
	metrics.IncDocumentOp("delete", "ok")
	return outcome, nil
}

// ReassignCategory changes only the category of a document.
func (s *Service) ReassignCategory(ctx context.Context, userID, id, category string) (Document, error) {
	id, err := documentID(id)
	if err != nil {
		return Document{}, err
	}
	category = strings.TrimSpace(category)
	if err := rule.ValidateVar(category, "required,max=64"); err != nil {
		metrics.IncDocumentOp("reassign", "invalid")
		return Document{}, &ValidationError{Fields: map[string]string{"category": tagOf(err)}}
	}
	doc, err := s.Repo.UpdateCategory(ctx, userID, id, category)
	if err != nil {
		return Document{}, err
	}
	s.sign(ctx, &doc)
	metrics.IncDocumentOp("reassign", "ok")
	return doc, nil
}

// Get returns one document with a fresh signed URL.
func (s *Service) Get(ctx context.Context, userID, id string) (Document, error) {
	id, err := documentID(id)
	if err != nil {
		return Document{}, err
	}
	doc, err := s.Repo.Get(ctx, userID, id)
	if err != nil {
		return Document{}, err
	}
	s.sign(ctx, &doc)
	return doc, nil
}

// List returns every document of the owner, ordered by opts, each with a signed URL.
func (s *Service) List(ctx context.Context, userID string, opts SortOptions) ([]Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	docs, err := s.Repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	SortDocuments(docs, opts)
	for i := range docs {
		s.sign(ctx, &docs[i])
	}
	return docs, nil
}

// CountByOwner returns the authoritative document count.
func (s *Service) CountByOwner(ctx context.Context, userID string) (int, error) {
	return s.Repo.CountByOwner(ctx, userID)
}

// documentID canonicalises a path id; anything that is not a UUID cannot exist.
func documentID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrNotFound
	}
	return id.String(), nil
}

// BlobKey builds "<owner>/<unixMillis>-<suffix>-<sanitized name>".
func BlobKey(userID, fileName string, now time.Time, suffix string) string {
	return fmt.Sprintf("%s/%d-%s-%s", util.SanitizeObjectName(userID), now.UnixMilli(), suffix, util.SanitizeObjectName(fileName))
}

func (s *Service) discardBlob(ctx context.Context, userID, key, reason string, outcome *Outcome) {
	ctx = context.WithoutCancel(ctx)
	err := s.Store.Delete(ctx, key)
	if err == nil {
		return
	}
	outcome.BlobCleanupFailed = true
	metrics.IncCompensationGap("blob_delete")
	telemetry.Error("documents.blob_cleanup_failed", map[string]any{
		"user_id":     userID,
		"storage_key": key,
		"reason":      reason,
		"request_id":  requestIDFromContext(ctx),
		"error":       err.Error(),
	})
	if s.Queue == nil {
		return
	}
	msg := queue.NewBlobDelete(key, userID, reason, requestIDFromContext(ctx), s.now())
	if err := s.Queue.Send(ctx, msg); err != nil {
		telemetry.Error("documents.cleanup_enqueue_failed", map[string]any{
			"storage_key": key,
			"error":       err.Error(),
		})
		return
	}
	outcome.CleanupEnqueued = true
}

func (s *Service) sign(ctx context.Context, doc *Document) {
	url, err := s.Store.SignedURL(ctx, doc.FilePath, s.signedURLTTL())
	if err != nil {
		telemetry.Warn("documents.sign_failed", map[string]any{
			"document_id": doc.ID,
			"storage_key": doc.FilePath,
			"error":       err.Error(),
		})
		doc.SignedURL = ""
		return
	}
	doc.SignedURL = url
}

func (s *Service) pageCount(ctx context.Context, kind extract.Kind, data []byte, key string) *int {
	if kind != extract.KindPDF {
		return nil
	}
	n, err := extract.PDFPageCount(ctx, data)
	if err != nil {
		telemetry.Debug("documents.page_count_failed", map[string]any{
			"storage_key": key,
			"error":       err.Error(),
		})
		return nil
	}
	return &n
}

func (s *Service) checkFile(file Upload) error {
	if len(file.Data) == 0 {
		return &ValidationError{Fields: map[string]string{"file": "required"}}
	}
	if s.MaxUploadBytes > 0 && int64(len(file.Data)) > s.MaxUploadBytes {
		return ErrFileTooLarge
	}
	return nil
}

// uploadClaim holds an Idempotency-Key while its upload runs.
type uploadClaim struct {
	store  kv.Store
	key    string
	userID string
	done   bool
}

// claimUpload takes the owner's Idempotency-Key. A key whose upload already finished
// yields the stored document; a key still in flight is waited on up to IdempotencyWait.
// A nil claim means the request is not tracked.
func (s *Service) claimUpload(ctx context.Context, userID, rawKey string) (*uploadClaim, *Document, error) {
	rawKey = strings.TrimSpace(rawKey)
	if s.Idempotency == nil || rawKey == "" {
		return nil, nil, nil
	}
	key := idempotencyKeyFor(userID, rawKey)
	deadline := time.Now().Add(s.idempotencyWait())
	for {
		claimed, err := s.Idempotency.SetNX(ctx, key, []byte(pendingMarker), pendingTTL)
		if err != nil {
			telemetry.Warn("documents.idempotency_claim_failed", map[string]any{"user_id": userID, "error": err.Error()})
			return nil, nil, nil
		}
		if claimed {
			return &uploadClaim{store: s.Idempotency, key: key, userID: userID}, nil, nil
		}

		raw, err := s.Idempotency.Get(ctx, key)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			// released between SetNX and Get
			continue
		case err != nil:
			telemetry.Warn("documents.idempotency_lookup_failed", map[string]any{"user_id": userID, "error": err.Error()})
			return nil, nil, nil
		case string(raw) != pendingMarker:
			doc, err := s.Get(ctx, userID, string(raw))
			if err == nil {
				metrics.IncDocumentOp("create", "replayed")
				return nil, &doc, nil
			}
			// the original document is gone; the key may be reused
			if err := s.Idempotency.Delete(ctx, key); err != nil {
				return nil, nil, fmt.Errorf("reset idempotency key: %w", err)
			}
			continue
		}

		if !time.Now().Before(deadline) {
			metrics.IncDocumentOp("create", "in_flight")
			return nil, nil, ErrUploadInProgress
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(idempotencyPoll):
		}
	}
}

func (c *uploadClaim) complete(ctx context.Context, documentID string) {
	if c == nil {
		return
	}
	c.done = true
	if err := c.store.Set(context.WithoutCancel(ctx), c.key, []byte(documentID), idempotencyTTL); err != nil {
		telemetry.Warn("documents.idempotency_store_failed", map[string]any{"user_id": c.userID, "error": err.Error()})
	}
}

// release frees a claim whose upload did not finish so the client can retry.
func (c *uploadClaim) release(ctx context.Context) {
	if c == nil || c.done {
		return
	}
	if err := c.store.Delete(context.WithoutCancel(ctx), c.key); err != nil {
		telemetry.Warn("documents.idempotency_release_failed", map[string]any{"user_id": c.userID, "error": err.Error()})
	}
}

// client keys are hashed so arbitrary header values stay bounded in the KV store
func idempotencyKeyFor(userID, key string) string {
	return "idem:upload:" + userID + ":" + util.HashUserKey(key)
}

func (s *Service) gate() quota.Gate {
	return quota.NewGate(s.Gate.FreeLimit)
}

func (s *Service) idempotencyWait() time.Duration {
	if s.IdempotencyWait <= 0 {
		return defaultIdempotencyWait
	}
	return s.IdempotencyWait
}

func (s *Service) signedURLTTL() time.Duration {
	if s.SignedURLTTL <= 0 {
		return defaultSignedURLTTL
	}
	return s.SignedURLTTL
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) suffix() string {
	if s.RandSuffix != nil {
		return s.RandSuffix()
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}

// normalizeMetadata leaves title and notes exactly as sent.
func normalizeMetadata(meta Metadata) Metadata {
	meta.Category = strings.TrimSpace(meta.Category)
	if meta.Category == "" {
		meta.Category = DefaultCategory
	}
	meta.Tags = NormalizeTags(meta.Tags)
	meta.SourceURL = strings.TrimSpace(meta.SourceURL)
	return meta
}

func applyUpdates(doc Document, upd Updates) Document {
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Category != nil {
		doc.Category = *upd.Category
	}
	if upd.Tags != nil {
		doc.Tags = *upd.Tags
	}
	if upd.Notes != nil {
		doc.Notes = *upd.Notes
	}
	if upd.SourceURL != nil {
		doc.SourceURL = *upd.SourceURL
	}
	meta := normalizeMetadata(Metadata{
		Title:     doc.Title,
		Category:  doc.Category,
		Tags:      doc.Tags,
		Notes:     doc.Notes,
		SourceURL: doc.SourceURL,
	})
	doc.Title = meta.Title
	doc.Category = meta.Category
	doc.Tags = meta.Tags
	doc.Notes = meta.Notes
	doc.SourceURL = meta.SourceURL
	return doc
}

func validateMetadata(meta Metadata) error {
	if strings.TrimSpace(meta.Title) == "" {
		return &ValidationError{Fields: map[string]string{"title": "required"}}
	}
	if err := rule.ValidateStruct(meta); err != nil {
		fields := rule.FieldErrors(err)
		if fields == nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

func tagOf(err error) string {
	for _, tag := range rule.FieldErrors(err) {
		return tag
	}
	return "invalid"
}
