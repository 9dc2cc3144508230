package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/kv"
	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/server/middleware"
	"medsnap-backend/internal/shared/telemetry"
)

const (
	maxWebhookBody = 1 << 20
	processedTTL   = 72 * time.Hour
	inFlightTTL    = 5 * time.Minute
	inFlightMarker = "processing"
)

type eventClaim int

const (
	// claimUntracked: no marker could be taken; process without one.
	claimUntracked eventClaim = iota
	claimHeld
	claimDuplicate
	claimBusy
)

// Options carries the public billing configuration.
type Options struct {
	PriceMonthly         string
	PriceYearly          string
	AppOrigin            string
	StripePublishableKey string
	SupabaseURL          string
	SupabaseAnonKey      string
	FreeUploadLimit      int
}

// Handler serves the billing endpoints. These keep the flat {"error": "..."} body
// the web client already parses.
type Handler struct {
	Reconciler *Reconciler
	// Provider is nil when STRIPE_SECRET_KEY is missing.
	Provider Provider
	// Events records processed webhook event IDs. Optional.
	Events kv.Store
	Opts   Options
}

// NewHandler constructs a Handler.
func NewHandler(reconciler *Reconciler, provider Provider, events kv.Store, opts Options) *Handler {
	return &Handler{Reconciler: reconciler, Provider: provider, Events: events, Opts: opts}
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
	UserID  string `json:"userId"`
}

type cancelRequest struct {
	UserID string `json:"userId"`
}

// RegisterRoutes attaches billing routes; rg is the /api group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/stripe-webhook", h.webhook)
	rg.GET("/public-config", h.publicConfig)

	open := rg.Group("", openCORS())
	open.OPTIONS("/create-checkout-session", preflight)
	open.POST("/create-checkout-session", h.createCheckoutSession)
	open.OPTIONS("/cancel-subscription", preflight)
	open.POST("/cancel-subscription", h.cancelSubscription)
}

func (h *Handler) webhook(c *gin.Context) {
	if h.Provider == nil || h.Reconciler == nil {
		telemetry.Error("billing.webhook.not_configured", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	ev, err := h.Provider.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			telemetry.Error("billing.webhook.not_configured", nil)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
			return
		}
		if errors.Is(err, ErrUnsupportedPayload) {
			metrics.IncWebhookEvent("unknown", "unsupported_payload")
			telemetry.Warn("billing.webhook.unsupported_payload", map[string]any{"error": err.Error()})
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported payload"})
			return
		}
		metrics.IncWebhookEvent("unknown", "invalid_signature")
		telemetry.Warn("billing.webhook.invalid_signature", map[string]any{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	ctx := c.Request.Context()
	claim := h.claimEvent(c, ev)
	switch claim {
	case claimDuplicate:
		metrics.IncWebhookEvent(ev.Type, "duplicate")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case claimBusy:
		// another delivery of the same event is running; the provider redelivers on non-2xx
		metrics.IncWebhookEvent(ev.Type, "in_flight")
		c.JSON(http.StatusConflict, gin.H{"error": "Event already being processed"})
		return
	}

	if err := h.Reconciler.Apply(ctx, ev); err != nil {
		if claim == claimHeld {
			h.releaseEvent(c, ev)
		}
		metrics.IncWebhookEvent(ev.Type, "error")
		telemetry.Error("billing.webhook.failed", map[string]any{
			"event_id": ev.ID,
			"type":     ev.Type,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook handler failed"})
		return
	}

	if h.Events != nil && ev.ID != "" {
		if err := h.Events.Set(context.WithoutCancel(ctx), processedKey(ev.ID), []byte(ev.Type), processedTTL); err != nil {
			telemetry.Warn("billing.webhook.mark_failed", map[string]any{"event_id": ev.ID, "error": err.Error()})
		}
	}
	metrics.IncWebhookEvent(ev.Type, "ok")
	telemetry.Info("billing.webhook.received", map[string]any{"event_id": ev.ID, "type": ev.Type})
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// claimEvent takes the in-flight marker for ev. A finished event keeps its type as
// the marker value for processedTTL.
func (h *Handler) claimEvent(c *gin.Context, ev Event) eventClaim {
	if h.Events == nil || ev.ID == "" {
		return claimUntracked
	}
	ctx := c.Request.Context()
	key := processedKey(ev.ID)
	ok, err := h.Events.SetNX(ctx, key, []byte(inFlightMarker), inFlightTTL)
	if err != nil {
		telemetry.Warn("billing.webhook.dedupe_claim_failed", map[string]any{"event_id": ev.ID, "error": err.Error()})
		return claimUntracked
	}
	if ok {
		return claimHeld
	}
	raw, err := h.Events.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return claimUntracked
	case err != nil:
		telemetry.Warn("billing.webhook.dedupe_lookup_failed", map[string]any{"event_id": ev.ID, "error": err.Error()})
		return claimUntracked
	case string(raw) == inFlightMarker:
		return claimBusy
	default:
		return claimDuplicate
	}
}

func (h *Handler) releaseEvent(c *gin.Context, ev Event) {
	if err := h.Events.Delete(context.WithoutCancel(c.Request.Context()), processedKey(ev.ID)); err != nil {
		telemetry.Warn("billing.webhook.release_failed", map[string]any{"event_id": ev.ID, "error": err.Error()})
	}
}

func (h *Handler) createCheckoutSession(c *gin.Context) {
	if h.Provider == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Stripe secret key not configured. Add STRIPE_SECRET_KEY to the environment.",
		})
		return
	}

	var req checkoutRequest
	_ = c.ShouldBindJSON(&req)
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.PriceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing priceId in request body"})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId in request body"})
		return
	}
	if !h.callerMayActFor(c, req.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	origin := requestOrigin(c, h.Opts.AppOrigin)
	session, err := h.Provider.CreateCheckoutSession(c.Request.Context(), CheckoutRequest{
		PriceID:    h.resolvePrice(req.PriceID),
		OwnerRef:   req.UserID,
		SuccessURL: origin + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  origin + "/dashboard",
	})
	if err != nil {
		telemetry.Error("billing.checkout.failed", map[string]any{"user_id": req.UserID, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	telemetry.Info("billing.checkout.created", map[string]any{"user_id": req.UserID, "session_id": session.ID})
	c.JSON(http.StatusOK, gin.H{"sessionId": session.ID, "url": session.URL})
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	if h.Provider == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe not configured"})
		return
	}
	if h.Reconciler == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database not configured"})
		return
	}

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}
	if !h.callerMayActFor(c, req.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	message, err := h.Reconciler.OnCancelRequested(c.Request.Context(), req.UserID)
	if err != nil {
		telemetry.Error("billing.cancel.failed", map[string]any{"user_id": req.UserID, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *Handler) publicConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supabaseUrl":          h.Opts.SupabaseURL,
		"supabaseAnonKey":      h.Opts.SupabaseAnonKey,
		"stripePublishableKey": h.Opts.StripePublishableKey,
		"priceIds": gin.H{
			"monthly": h.Opts.PriceMonthly,
			"yearly":  h.Opts.PriceYearly,
		},
		"freeUploadLimit": h.Opts.FreeUploadLimit,
	})
}

// callerMayActFor rejects a verified bearer whose subject differs from the body userId.
// Requests without a bearer keep the legacy behaviour.
func (h *Handler) callerMayActFor(c *gin.Context, userID string) bool {
	caller := middleware.UserIDFromContext(c)
	return caller == "" || caller == userID
}

func (h *Handler) resolvePrice(priceID string) string {
	switch strings.ToLower(priceID) {
	case "monthly":
		if h.Opts.PriceMonthly != "" {
			return h.Opts.PriceMonthly
		}
	case "yearly":
		if h.Opts.PriceYearly != "" {
			return h.Opts.PriceYearly
		}
	}
	return priceID
}

func requestOrigin(c *gin.Context, fallback string) string {
	if origin := strings.TrimRight(strings.TrimSpace(c.GetHeader("Origin")), "/"); origin != "" {
		return origin
	}
	if host := strings.TrimSpace(c.Request.Host); host != "" {
		return "https://" + host
	}
	return strings.TrimRight(fallback, "/")
}

func processedKey(eventID string) string {
	return "stripe:event:" + eventID
}

func openCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Next()
	}
}

func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}
