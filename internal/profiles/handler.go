package profiles

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/server/middleware"
	"medsnap-backend/internal/shared/server/respond"
)

// DocumentCounter returns the authoritative number of stored documents for an owner.
type DocumentCounter interface {
	CountByOwner(ctx context.Context, userID string) (int, error)
}

// QuotaGate is satisfied by quota.Gate.
type QuotaGate interface {
	CanUpload(documentCount int, status Status) bool
	Remaining(documentCount int, status Status) int
}

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc       *Service
	Documents DocumentCounter
	Gate      QuotaGate
	FreeLimit int
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, docs DocumentCounter, gate QuotaGate, freeLimit int) *Handler {
	return &Handler{Svc: svc, Documents: docs, Gate: gate, FreeLimit: freeLimit}
}

// RegisterRoutes attaches profile routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/profile", h.get)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	p, err := h.Svc.Profile(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load profile", nil)
		return
	}
	count, err := h.Documents.CountByOwner(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to count documents", nil)
		return
	}

	resp := ProfileResponse{
		UserID:             p.UserID,
		SubscriptionStatus: p.Status,
		SubscriptionPlan:   p.Plan,
		UploadCount:        p.UploadCount,
		DocumentCount:      count,
		FreeLimit:          h.FreeLimit,
		CanUpload:          h.Gate.CanUpload(count, p.Status),
		HasCustomer:        p.CustomerRef != "",
		UpdatedAt:          p.UpdatedAt,
	}
	if remaining := h.Gate.Remaining(count, p.Status); remaining >= 0 {
		resp.Remaining = &remaining
	}
	respond.OK(c, resp)
}
