package documents

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/rule"
	"medsnap-backend/internal/shared/server/middleware"
	"medsnap-backend/internal/shared/server/respond"
)

const defaultMaxUploadSize = 25 << 20 // 25MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents", h.list)
	rg.GET("/documents/categories", h.categories)
	rg.POST("/documents", h.create)
	rg.GET("/documents/:id", h.get)
	rg.PATCH("/documents/:id", h.update)
	rg.PATCH("/documents/:id/category", h.reassignCategory)
	rg.DELETE("/documents/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	docs, err := h.Svc.List(c.Request.Context(), userID, ParseSort(c.Query("sort"), c.Query("order")))
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}

	filtered := Filter(docs, c.Query("category"), c.Query("search"))
	resp := ListResponse{
		Documents:  make([]DocumentResponse, 0, len(filtered)),
		Total:      len(filtered),
		Categories: Categories(docs),
	}
	for _, doc := range filtered {
		resp.Documents = append(resp.Documents, toResponse(doc))
	}
	respond.OK(c, resp)
}

func (h *Handler) categories(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	docs, err := h.Svc.List(c.Request.Context(), userID, DefaultSort)
	if err != nil {
		writeError(c, err, "failed to list categories")
		return
	}
	respond.OK(c, gin.H{"categories": Categories(docs)})
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize())

	upload, ok := h.readFile(c, true)
	if !ok {
		return
	}

	meta := Metadata{
		Title:        c.PostForm("title"),
		Category:     c.PostForm("category"),
		Tags:         formTags(c),
		Notes:        c.PostForm("notes"),
		SourceURL:    firstForm(c, "source_url", "sourceUrl"),
		ConfirmNoPHI: formBool(firstForm(c, "confirm_no_phi", "confirmNoPhi")),
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	doc, outcome, err := h.Svc.Create(ctx, userID, meta, *upload, c.GetHeader("Idempotency-Key"))
	if err != nil {
		writeError(c, err, "failed to upload document")
		return
	}

	c.Set("documentId", doc.ID)
	respond.Created(c, withWarnings(toResponse(doc), outcome))
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)

	doc, err := h.Svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) update(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize())

	upload, ok := h.readFile(c, false)
	if !ok {
		return
	}

	var upd Updates
	if v, present := c.GetPostForm("title"); present {
		upd.Title = &v
	}
	if v, present := c.GetPostForm("category"); present {
		upd.Category = &v
	}
	if _, present := c.GetPostForm("tags"); present {
		tags := formTags(c)
		upd.Tags = &tags
	}
	if v, present := c.GetPostForm("notes"); present {
		upd.Notes = &v
	}
	if v, present := c.GetPostForm("source_url"); present {
		upd.SourceURL = &v
	} else if v, present := c.GetPostForm("sourceUrl"); present {
		upd.SourceURL = &v
	}
	upd.ConfirmNoPHI = formBool(firstForm(c, "confirm_no_phi", "confirmNoPhi"))

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	doc, outcome, err := h.Svc.Update(ctx, userID, id, upd, upload)
	if err != nil {
		writeError(c, err, "failed to update document")
		return
	}
	respond.OK(c, withWarnings(toResponse(doc), outcome))
}

func (h *Handler) reassignCategory(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)

	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "category is required", rule.FieldErrors(err))
		return
	}

	doc, err := h.Svc.ReassignCategory(c.Request.Context(), userID, id, req.Category)
	if err != nil {
		writeError(c, err, "failed to update category")
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	outcome, err := h.Svc.Delete(ctx, userID, id)
	if err != nil {
		writeError(c, err, "failed to delete document")
		return
	}
	resp := gin.H{"deleted": true, "id": id}
	if !outcome.Clean() {
		resp["warnings"] = withWarnings(DocumentResponse{}, outcome).Warnings
	}
	respond.OK(c, resp)
}

// readFile loads the "file" form part. A missing file is an error only when required;
// (nil, true) means no file was sent.
func (h *Handler) readFile(c *gin.Context, required bool) (*Upload, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload limit", nil)
			return nil, false
		case errors.Is(err, http.ErrMissingFile):
			if !required {
				return nil, true
			}
			respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
			return nil, false
		case errors.Is(err, http.ErrNotMultipart):
			respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form expected", nil)
			return nil, false
		default:
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read upload", nil)
			return nil, false
		}
	}

	data, err := readAll(fileHeader)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return nil, false
	}
	return &Upload{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, true
}

func (h *Handler) maxBodySize() int64 {
	if h.Svc != nil && h.Svc.MaxUploadBytes > 0 {
		// room for the other form fields
		return h.Svc.MaxUploadBytes + 1<<20
	}
	return defaultMaxUploadSize
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeError(c *gin.Context, err error, fallback string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(c, http.StatusBadRequest, "validation_error", verr.Error(), verr.Fields)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrQuotaExceeded):
		respond.Error(c, http.StatusPaymentRequired, "quota_exceeded", "Free upload limit reached. Upgrade to Pro for unlimited uploads.", nil)
	case errors.Is(err, ErrUnsupportedFileType):
		respond.Error(c, http.StatusBadRequest, "unsupported_file_type", "only PDF, image and Word files are accepted", nil)
	case errors.Is(err, ErrUploadInProgress):
		respond.Error(c, http.StatusConflict, "idempotency_conflict", "an upload with this Idempotency-Key is still in progress", nil)
	case errors.Is(err, ErrFileTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload limit", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func formTags(c *gin.Context) []string {
	values := c.PostFormArray("tags")
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return NormalizeTags(out)
}

func firstForm(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v, ok := c.GetPostForm(k); ok {
			return v
		}
	}
	return ""
}

func formBool(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "on") {
		return true
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
