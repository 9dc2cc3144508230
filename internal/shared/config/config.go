package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFreeUploadLimit = 10
	DefaultSignedURLTTL    = time.Hour
	DefaultOrphanGrace     = time.Hour
	DefaultReconcileCron   = "17 3 * * *"
	fallbackAppOrigin      = "https://medsnap.vercel.app"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	LogLevel        string

	DatabaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	LocalSignSecret string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	SSEKMSKeyID     string
	SignedURLTTL    time.Duration
	MaxUploadBytes  int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret       string
	SupabaseURL     string
	SupabaseAnonKey string

	StripeSecretKey      string
	StripeWebhookSecret  string
	StripePublishableKey string
	PriceIDMonthly       string
	PriceIDYearly        string
	AppOrigin            string

	FreeUploadLimit int

	QueueURL          string
	ReconcileEnabled  bool
	ReconcileCron     string
	OrphanGracePeriod time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	jwtSecret := firstEnv("SUPABASE_JWT_SECRET", "JWT_SECRET")

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DatabaseURL: dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		LocalSignSecret: getEnv("LOCAL_SIGNING_SECRET", jwtSecret),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", "guidelines"),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UseSSL:        getBool("S3_USE_SSL", true),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		SignedURLTTL:    getDuration("SIGNED_URL_TTL", DefaultSignedURLTTL),
		MaxUploadBytes:  int64(getInt("MAX_UPLOAD_BYTES", 25<<20)),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTSecret:       jwtSecret,
		SupabaseURL:     firstEnv("SUPABASE_URL", "VITE_SUPABASE_URL"),
		SupabaseAnonKey: firstEnv("SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"),

		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePublishableKey: firstEnv("STRIPE_PUBLISHABLE_KEY", "VITE_STRIPE_PUBLISHABLE_KEY"),
		PriceIDMonthly:       orDefault(firstEnv("STRIPE_PRICE_ID_MONTHLY", "VITE_STRIPE_PRICE_ID_MONTHLY"), "price_monthly"),
		PriceIDYearly:        orDefault(firstEnv("STRIPE_PRICE_ID_YEARLY", "VITE_STRIPE_PRICE_ID_YEARLY"), "price_yearly"),
		AppOrigin:            getEnv("APP_ORIGIN", fallbackAppOrigin),

		FreeUploadLimit: getInt("FREE_UPLOAD_LIMIT", DefaultFreeUploadLimit),

		QueueURL:          getEnv("MEDSNAP_SQS_QUEUE_URL", ""),
		ReconcileEnabled:  getBool("RECONCILE_ENABLED", false),
		ReconcileCron:     getEnv("RECONCILE_CRON", DefaultReconcileCron),
		OrphanGracePeriod: getDuration("RECONCILE_ORPHAN_GRACE", DefaultOrphanGrace),
	}
}

// StripeConfigured reports whether billing calls can reach the provider.
func (c Config) StripeConfigured() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// IsDevLike reports whether dev conveniences (memory repos, header identity) are allowed.
func (c Config) IsDevLike() bool {
	return IsDevEnv(c.Env)
}

// IsDevEnv reports whether a normalized ENV value is a local development one.
// Anything unrecognised is treated as deployed.
func IsDevEnv(env string) bool {
	return env == "dev" || env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev", "":
		return "dev"
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio", "supabase":
		return "minio"
	default:
		return "local"
	}
}
