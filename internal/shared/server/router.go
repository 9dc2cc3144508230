package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/billing"
	"medsnap-backend/internal/documents"
	"medsnap-backend/internal/extract"
	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/reconcile"
	"medsnap-backend/internal/services/health"
	"medsnap-backend/internal/shared/auth"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/server/middleware"
	"medsnap-backend/internal/shared/server/respond"
	"medsnap-backend/internal/shared/storage/object"
	localstore "medsnap-backend/internal/shared/storage/object/local"
	"medsnap-backend/internal/shared/telemetry"
)

const (
	rateGroupUpload  = "UPLOAD"
	rateGroupBilling = "BILLING"
)

// billing routes answer their own preflights with an open origin
var billingCORSPaths = []string{
	"/api/create-checkout-session",
	"/api/cancel-subscription",
}

// BlobSource serves signed local blob links.
type BlobSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	ContentType(ctx context.Context, key string) (string, error)
	Verify(key, expRaw, sig string) bool
}

// RouterDeps carries the handlers and collaborators the router mounts.
type RouterDeps struct {
	Config          config.Config
	Verifier        *auth.Verifier
	Health          *health.Service
	DocumentHandler *documents.Handler
	ProfileHandler  *profiles.Handler
	BillingHandler  *billing.Handler
	// LocalBlobs is set only when blobs live on the local filesystem.
	LocalBlobs *localstore.Store
	// Reconcile backs the dev-only reconciliation trigger. Optional.
	Reconcile *reconcile.Pass
	Limiter   *middleware.Limiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	cfg := deps.Config

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin, billingCORSPaths...),
		middleware.Auth(deps.Verifier, cfg.Env),
		middleware.RateLimit(middleware.RateLimitOptions{
			GroupFor: rateGroupFor,
			Limiter:  deps.Limiter,
			Rules: map[string]middleware.RateRule{
				rateGroupUpload:  {PerSecond: 0.5, Burst: 10},
				rateGroupBilling: {PerSecond: 0.2, Burst: 5},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	legacy := r.Group("/api")
	if deps.BillingHandler != nil {
		deps.BillingHandler.RegisterRoutes(legacy)
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	registerMeRoutes(api)
	if deps.ProfileHandler != nil {
		deps.ProfileHandler.RegisterRoutes(api)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.LocalBlobs != nil {
		api.GET("/blobs/*key", serveLocalBlob(deps.LocalBlobs))
	}
	if cfg.IsDevLike() && deps.Reconcile != nil {
		dev := api.Group("/dev")
		dev.POST("/reconcile", runReconcile(deps.Reconcile))
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	route := c.FullPath()
	switch {
	case c.Request.Method == http.MethodPost && route == "/api/v1/documents",
		c.Request.Method == http.MethodPatch && route == "/api/v1/documents/:id":
		return rateGroupUpload
	case c.Request.Method == http.MethodPost && (route == "/api/create-checkout-session" || route == "/api/cancel-subscription"):
		return rateGroupBilling
	default:
		return ""
	}
}

func serveLocalBlob(blobs BlobSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		if !blobs.Verify(key, c.Query("exp"), c.Query("sig")) {
			respond.Error(c, http.StatusForbidden, "forbidden", "link expired or invalid", nil)
			return
		}
		ctx := c.Request.Context()
		rc, err := blobs.Open(ctx, key)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to open file", nil)
			return
		}
		defer rc.Close()

		contentType, err := blobs.ContentType(ctx, key)
		if err != nil {
			telemetry.Warn("blob.content_type_failed", map[string]any{"storage_key": key, "error": err.Error()})
		}
		disposition := "inline"
		if _, err := extract.Classify(contentType); err != nil {
			contentType = "application/octet-stream"
			disposition = "attachment"
		}
		if header := mime.FormatMediaType(disposition, map[string]string{"filename": path.Base(key)}); header != "" {
			disposition = header
		}
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", disposition)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
		c.Header("Cache-Control", "private, max-age=300")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			telemetry.Warn("blob.stream_failed", map[string]any{"storage_key": key, "error": err.Error()})
		}
	}
}

func runReconcile(pass *reconcile.Pass) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		res, err := pass.Run(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "reconcile_failed", err.Error(), nil)
			return
		}
		respond.JSON(c, http.StatusOK, gin.H{
			"result":     res,
			"durationMs": time.Since(start).Milliseconds(),
		})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
