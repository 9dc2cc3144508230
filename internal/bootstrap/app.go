package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/billing"
	"medsnap-backend/internal/documents"
	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/queue"
	"medsnap-backend/internal/quota"
	"medsnap-backend/internal/reconcile"
	"medsnap-backend/internal/services/health"
	"medsnap-backend/internal/shared/auth"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/kv"
	"medsnap-backend/internal/shared/server"
	"medsnap-backend/internal/shared/server/middleware"
	"medsnap-backend/internal/shared/storage/db"
	"medsnap-backend/internal/shared/storage/object"
	localstore "medsnap-backend/internal/shared/storage/object/local"
	miniostore "medsnap-backend/internal/shared/storage/object/minio"
	s3store "medsnap-backend/internal/shared/storage/object/s3"
	"medsnap-backend/internal/shared/telemetry"
)

const kvPrefix = "medsnap:"

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.Store
	// LocalStore is set when blobs live on disk; it also serves signed links.
	LocalStore *localstore.Store
	KV         kv.Store
	// Queue is nil when MEDSNAP_SQS_QUEUE_URL is unset.
	Queue queue.Client

	ProfilesRepo     profiles.Repo
	DocumentsRepo    documents.Repo
	ProfilesService  *profiles.Service
	DocumentsService *documents.Service
	Reconciler       *billing.Reconciler
	Reconcile        *reconcile.Pass

	DocumentsHandler *documents.Handler
	ProfilesHandler  *profiles.Handler
	BillingHandler   *billing.Handler
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	telemetry.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB}

	if err := buildStore(ctx, app); err != nil {
		return nil, err
	}
	if err := buildKV(ctx, app); err != nil {
		return nil, err
	}
	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Verifier:        verifier,
		Health:          buildHealth(app),
		DocumentHandler: app.DocumentsHandler,
		ProfileHandler:  app.ProfilesHandler,
		BillingHandler:  app.BillingHandler,
		LocalBlobs:      app.LocalStore,
		Reconcile:       app.Reconcile,
		Limiter:         middleware.NewLimiter(nil),
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.db.memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.db.memory", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if cfg.IsDevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, app *App) error {
	cfg := app.Config
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return err
		}
		app.Store = store
	case "minio":
		store, err := miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.AWSRegion,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		app.Store = store
	default:
		local := localstore.New(cfg.LocalStoreDir, cfg.LocalSignSecret, "")
		app.Store = local
		app.LocalStore = local
	}
	return nil
}

func buildKV(ctx context.Context, app *App) error {
	cfg := app.Config
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		app.KV = kv.NewMemoryStore(nil)
		return nil
	}
	store, err := kv.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, kvPrefix)
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.kv.memory", map[string]any{"error": err.Error()})
			app.KV = kv.NewMemoryStore(nil)
			return nil
		}
		return err
	}
	app.KV = store
	return nil
}

func buildQueue(ctx context.Context, app *App) error {
	if strings.TrimSpace(app.Config.QueueURL) == "" {
		return nil
	}
	client, err := queue.NewSQSClient(ctx)
	if err != nil {
		return err
	}
	app.Queue = client
	return nil
}

func buildServices(app *App) error {
	cfg := app.Config

	if app.DB != nil {
		app.ProfilesRepo = &profiles.PGRepo{DB: app.DB}
		app.DocumentsRepo = &documents.PGRepo{DB: app.DB}
	} else {
		app.ProfilesRepo = profiles.NewMemoryRepo()
		app.DocumentsRepo = documents.NewMemoryRepo()
	}

	gate := quota.NewGate(cfg.FreeUploadLimit)
	app.ProfilesService = profiles.NewService(app.ProfilesRepo)
	app.DocumentsService = &documents.Service{
		Repo:           app.DocumentsRepo,
		Store:          app.Store,
		Profiles:       app.ProfilesService,
		Gate:           gate,
		Queue:          app.Queue,
		Idempotency:    app.KV,
		SignedURLTTL:   cfg.SignedURLTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	var provider billing.Provider
	if cfg.StripeConfigured() {
		stripeProvider, err := billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if err != nil {
			return err
		}
		provider = stripeProvider
	} else {
		telemetry.Warn("bootstrap.billing.disabled", map[string]any{"reason": "STRIPE_SECRET_KEY empty"})
	}
	app.Reconciler = billing.NewReconciler(app.ProfilesRepo, provider)

	app.Reconcile = &reconcile.Pass{
		Profiles:  app.ProfilesRepo,
		Documents: app.DocumentsRepo,
		Store:     app.Store,
		Grace:     cfg.OrphanGracePeriod,
	}

	app.DocumentsHandler = documents.NewHandler(app.DocumentsService)
	app.ProfilesHandler = profiles.NewHandler(app.ProfilesService, app.DocumentsService, gate, gate.FreeLimit)
	app.BillingHandler = billing.NewHandler(app.Reconciler, provider, app.KV, billing.Options{
		PriceMonthly:         cfg.PriceIDMonthly,
		PriceYearly:          cfg.PriceIDYearly,
		AppOrigin:            cfg.AppOrigin,
		StripePublishableKey: cfg.StripePublishableKey,
		SupabaseURL:          cfg.SupabaseURL,
		SupabaseAnonKey:      cfg.SupabaseAnonKey,
		FreeUploadLimit:      gate.FreeLimit,
	})
	return nil
}

func buildHealth(app *App) *health.Service {
	checks := map[string]health.Pinger{}
	if app.DB != nil {
		checks["db"] = app.DB
	}
	if pinger, ok := app.KV.(health.Pinger); ok {
		checks["kv"] = pinger
	}
	return health.NewService(checks)
}

// Close releases pooled connections.
func (a *App) Close() error {
	var firstErr error
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
