package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/shared/kv"
)

type billingEnv struct {
	repo     *profiles.MemoryRepo
	provider *fakeProvider
	events   *kv.MemoryStore
	router   *gin.Engine
}

func newBillingEnv(t *testing.T) *billingEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &billingEnv{
		repo:     profiles.NewMemoryRepo(),
		provider: newFakeProvider(),
		events:   kv.NewMemoryStore(nil),
	}
	h := NewHandler(NewReconciler(env.repo, env.provider), env.provider, env.events, Options{
		PriceMonthly:    "price_month",
		PriceYearly:     "price_year",
		AppOrigin:       "https://app.medsnap.test",
		FreeUploadLimit: 10,
	})
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set("userId", id)
		}
		c.Next()
	})
	h.RegisterRoutes(r.Group("/api"))
	env.router = r
	return env
}

func postJSON(r *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postWebhook(r *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestWebhookInvalidSignature(t *testing.T) {
	env := newBillingEnv(t)

	for _, sig := range []string{"", "t=1,v1=forged"} {
		rec := postWebhook(env.router, checkoutEventJSON("evt_1", "cus_1", "user-1", ""), sig)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("signature %q: expected 400, got %d", sig, rec.Code)
		}
		if got := decodeError(t, rec); got != "Invalid signature" {
			t.Fatalf("unexpected error %q", got)
		}
	}
	if ids, _ := env.repo.ListUserIDs(context.Background()); len(ids) != 0 {
		t.Fatalf("rejected webhook must not mutate profiles, got %v", ids)
	}
}

func TestWebhookNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, nil, nil, Options{}).RegisterRoutes(r.Group("/api"))

	rec := postWebhook(r, []byte(`{}`), goodSignature)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Server configuration error" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestWebhookCheckoutActivatesAndDedupes(t *testing.T) {
	env := newBillingEnv(t)
	payload := checkoutEventJSON("evt_checkout", "cus_1", "user-1", "")

	for i := 0; i < 2; i++ {
		rec := postWebhook(env.router, payload, goodSignature)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		var body map[string]bool
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if !body["received"] {
			t.Fatalf("expected received=true, got %s", rec.Body.String())
		}
	}

	p, err := env.repo.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != profiles.StatusActive || p.Plan != profiles.PlanPro || p.CustomerRef != "cus_1" {
		t.Fatalf("unexpected profile %+v", p)
	}
	seen, _ := env.events.Exists(context.Background(), processedKey("evt_checkout"))
	if !seen {
		t.Fatal("expected event to be recorded as processed")
	}
}

func TestWebhookUnsupportedPayload(t *testing.T) {
	env := newBillingEnv(t)
	payload := []byte(`{"id":"evt_bad","type":"checkout.session.completed","data":{"object":[1]}}`)

	rec := postWebhook(env.router, payload, goodSignature)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Unsupported payload" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestWebhookInFlightDeliveryIsRejected(t *testing.T) {
	env := newBillingEnv(t)
	ctx := context.Background()
	if err := env.events.Set(ctx, processedKey("evt_busy"), []byte(inFlightMarker), time.Minute); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	rec := postWebhook(env.router, checkoutEventJSON("evt_busy", "cus_1", "user-1", ""), goodSignature)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := env.repo.Get(ctx, "user-1"); !errors.Is(err, profiles.ErrNotFound) {
		t.Fatalf("in-flight duplicate must not write, got %v", err)
	}
}

type failingProfileRepo struct {
	*profiles.MemoryRepo
	fail bool
}

func (r *failingProfileRepo) UpsertSubscription(ctx context.Context, userID, customerRef string, status profiles.Status, plan profiles.Plan) error {
	if r.fail {
		return errors.New("db down")
	}
	return r.MemoryRepo.UpsertSubscription(ctx, userID, customerRef, status, plan)
}

func TestWebhookFailureReleasesEventForRedelivery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &failingProfileRepo{MemoryRepo: profiles.NewMemoryRepo(), fail: true}
	provider := newFakeProvider()
	events := kv.NewMemoryStore(nil)
	r := gin.New()
	NewHandler(NewReconciler(repo, provider), provider, events, Options{}).RegisterRoutes(r.Group("/api"))
	payload := checkoutEventJSON("evt_retry", "cus_9", "user-9", "")

	rec := postWebhook(r, payload, goodSignature)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if seen, _ := events.Exists(context.Background(), processedKey("evt_retry")); seen {
		t.Fatal("failed event must not stay marked")
	}

	repo.fail = false
	rec = postWebhook(r, payload, goodSignature)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p, err := repo.Get(context.Background(), "user-9")
	if err != nil || p.Status != profiles.StatusActive {
		t.Fatalf("expected active profile after redelivery, got %+v, %v", p, err)
	}
}

func TestWebhookUnknownCustomerAcknowledged(t *testing.T) {
	env := newBillingEnv(t)

	rec := postWebhook(env.router, subscriptionEventJSON("evt_sub", TypeSubscriptionUpdated, "cus_missing", "canceled", false), goodSignature)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ids, _ := env.repo.ListUserIDs(context.Background()); len(ids) != 0 {
		t.Fatalf("expected no profiles, got %v", ids)
	}
}

func TestWebhookSubscriptionCancelAtPeriodEnd(t *testing.T) {
	env := newBillingEnv(t)
	ctx := context.Background()
	_ = env.repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusActive, profiles.PlanPro)

	rec := postWebhook(env.router, subscriptionEventJSON("evt_upd", TypeSubscriptionUpdated, "cus_1", "active", true), goodSignature)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p, _ := env.repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusCancelling {
		t.Fatalf("expected cancelling, got %q", p.Status)
	}

	rec = postWebhook(env.router, subscriptionEventJSON("evt_del", TypeSubscriptionDeleted, "cus_1", "canceled", false), goodSignature)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p, _ = env.repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusInactive {
		t.Fatalf("expected inactive, got %q", p.Status)
	}
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	env := newBillingEnv(t)

	tests := []struct {
		name    string
		body    map[string]string
		caller  string
		status  int
		message string
	}{
		{name: "missing price", body: map[string]string{"userId": "user-1"}, status: http.StatusBadRequest, message: "Missing priceId in request body"},
		{name: "missing user", body: map[string]string{"priceId": "price_month"}, status: http.StatusBadRequest, message: "Missing userId in request body"},
		{name: "caller mismatch", body: map[string]string{"priceId": "price_month", "userId": "user-2"}, caller: "user-1", status: http.StatusForbidden, message: "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.caller != "" {
				headers["X-Test-User"] = tt.caller
			}
			rec := postJSON(env.router, "/api/create-checkout-session", tt.body, headers)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decodeError(t, rec); got != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, got)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Fatal("expected open CORS header")
			}
		})
	}
	if len(env.provider.sessions) != 0 {
		t.Fatalf("provider must not be called on invalid input")
	}
}

func TestCreateCheckoutSessionResolvesAliasAndOrigin(t *testing.T) {
	env := newBillingEnv(t)

	rec := postJSON(env.router, "/api/create-checkout-session",
		map[string]string{"priceId": "yearly", "userId": "user-1"},
		map[string]string{"Origin": "https://medsnap.example", "X-Test-User": "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SessionID string `json:"sessionId"`
		URL       string `json:"url"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.SessionID != "cs_test_1" || body.URL == "" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	got := env.provider.sessions[0]
	if got.PriceID != "price_year" || got.OwnerRef != "user-1" {
		t.Fatalf("unexpected checkout request %+v", got)
	}
	if got.SuccessURL != "https://medsnap.example/dashboard?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %q", got.SuccessURL)
	}
	if got.CancelURL != "https://medsnap.example/dashboard" {
		t.Fatalf("unexpected cancel url %q", got.CancelURL)
	}
}

func TestCreateCheckoutSessionProviderError(t *testing.T) {
	env := newBillingEnv(t)
	env.provider.err = &ProviderError{Message: "No such price: 'price_bad'", Err: errors.New("stripe")}

	rec := postJSON(env.router, "/api/create-checkout-session",
		map[string]string{"priceId": "price_bad", "userId": "user-1"}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "No such price: 'price_bad'" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestCheckoutWithoutProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, nil, nil, Options{}).RegisterRoutes(r.Group("/api"))

	rec := postJSON(r, "/api/create-checkout-session", map[string]string{"priceId": "p", "userId": "u"}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Stripe secret key not configured. Add STRIPE_SECRET_KEY to the environment." {
		t.Fatalf("unexpected error %q", got)
	}

	rec = postJSON(r, "/api/cancel-subscription", map[string]string{"userId": "u"}, nil)
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec) != "Stripe not configured" {
		t.Fatalf("unexpected cancel response %d %s", rec.Code, rec.Body.String())
	}
}

func TestPreflightReturnsOK(t *testing.T) {
	env := newBillingEnv(t)

	for _, path := range []string{"/api/create-checkout-session", "/api/cancel-subscription"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("%s: missing CORS header", path)
		}
	}
}

func TestCancelSubscriptionFlows(t *testing.T) {
	env := newBillingEnv(t)
	ctx := context.Background()

	rec := postJSON(env.router, "/api/cancel-subscription", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "Missing userId" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	_ = env.repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusActive, profiles.PlanPro)
	env.provider.subs["cus_1"] = []Subscription{{ID: "sub_1"}}

	rec = postJSON(env.router, "/api/cancel-subscription", map[string]string{"userId": "user-1"}, map[string]string{"X-Test-User": "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != MessageCancelAtEnd {
		t.Fatalf("unexpected message %q", body["message"])
	}

	rec = postJSON(env.router, "/api/cancel-subscription", map[string]string{"userId": "user-1"}, map[string]string{"X-Test-User": "user-9"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestPublicConfig(t *testing.T) {
	env := newBillingEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/public-config", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		PriceIDs        map[string]string `json:"priceIds"`
		FreeUploadLimit int               `json:"freeUploadLimit"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.PriceIDs["monthly"] != "price_month" || body.FreeUploadLimit != 10 {
		t.Fatalf("unexpected config %s", rec.Body.String())
	}
}
