package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"medsnap-backend/internal/shared/config"
)

func TestBuildDevUsesMemoryBackends(t *testing.T) {
	cfg := config.Config{
		Env:             "dev",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		FreeUploadLimit: 10,
	}

	app, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.DB != nil {
		t.Fatal("expected no database")
	}
	if app.Queue != nil {
		t.Fatal("queue must stay nil without a queue url")
	}
	if app.LocalStore == nil || app.Store == nil {
		t.Fatal("expected local object store")
	}
	if app.BillingHandler.Provider != nil {
		t.Fatal("billing provider must be nil without a secret key")
	}

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBuildProductionRequiresDatabase(t *testing.T) {
	cfg := config.Config{Env: "production", JWTSecret: "secret", ObjectStoreType: "local", LocalStoreDir: t.TempDir()}
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}
