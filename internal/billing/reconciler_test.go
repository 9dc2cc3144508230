package billing

import (
	"context"
	"errors"
	"testing"

	"medsnap-backend/internal/profiles"
)

func TestMapProviderStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		cancel bool
		want   profiles.Status
	}{
		{status: "active", want: profiles.StatusActive},
		{status: "trialing", want: profiles.StatusActive},
		{status: "active", cancel: true, want: profiles.StatusCancelling},
		{status: "past_due", want: profiles.StatusInactive},
		{status: "canceled", want: profiles.StatusInactive},
		{status: "incomplete_expired", want: profiles.StatusInactive},
		{status: "", want: profiles.StatusInactive},
	}
	for _, tt := range tests {
		if got := MapProviderStatus(tt.status, tt.cancel); got != tt.want {
			t.Fatalf("MapProviderStatus(%q, %v) = %q, want %q", tt.status, tt.cancel, got, tt.want)
		}
	}
}

func TestCheckoutCompletedTwiceYieldsOneActiveProfile(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_ = repo.AdjustUploadCount(ctx, "user-1", 4)
	r := NewReconciler(repo, newFakeProvider())

	for i := 0; i < 2; i++ {
		if err := r.OnCheckoutCompleted(ctx, "cus_1", "user-1"); err != nil {
			t.Fatalf("OnCheckoutCompleted: %v", err)
		}
	}

	ids, _ := repo.ListUserIDs(ctx)
	if len(ids) != 1 {
		t.Fatalf("expected one profile, got %v", ids)
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusActive || p.Plan != profiles.PlanPro || p.CustomerRef != "cus_1" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.UploadCount != 4 {
		t.Fatalf("upload_count must be untouched, got %d", p.UploadCount)
	}
}

func TestCheckoutWithoutOwnerIsNoop(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	r := NewReconciler(repo, nil)
	if err := r.OnCheckoutCompleted(context.Background(), "cus_1", ""); err != nil {
		t.Fatalf("OnCheckoutCompleted: %v", err)
	}
	if ids, _ := repo.ListUserIDs(context.Background()); len(ids) != 0 {
		t.Fatalf("expected no profiles, got %v", ids)
	}
}

func TestSubscriptionChangedUnknownCustomerIsNoop(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_ = repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusActive, profiles.PlanPro)
	r := NewReconciler(repo, nil)

	applied, err := r.OnSubscriptionChanged(ctx, "cus_unknown", "canceled", false)
	if err != nil || applied {
		t.Fatalf("expected silent no-op, got applied=%v err=%v", applied, err)
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusActive {
		t.Fatalf("unrelated profile changed: %+v", p)
	}
}

func TestSubscriptionDeletedDeactivates(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_ = repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusCancelling, profiles.PlanPro)
	r := NewReconciler(repo, nil)

	applied, err := r.OnSubscriptionChanged(ctx, "cus_1", "canceled", false)
	if err != nil || !applied {
		t.Fatalf("OnSubscriptionChanged: applied=%v err=%v", applied, err)
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusInactive {
		t.Fatalf("expected inactive, got %q", p.Status)
	}
}

func TestCancelWithoutCustomerMarksCancelled(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_, _ = repo.Ensure(ctx, "user-1")
	provider := newFakeProvider()
	r := NewReconciler(repo, provider)

	msg, err := r.OnCancelRequested(ctx, "user-1")
	if err != nil {
		t.Fatalf("OnCancelRequested: %v", err)
	}
	if msg != MessageCancelled {
		t.Fatalf("unexpected message %q", msg)
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", p.Status)
	}
	if len(provider.cancelled) != 0 {
		t.Fatalf("provider must not be called without a customer")
	}
}

func TestCancelWithCustomerCancelsEveryActiveSubscription(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_ = repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusActive, profiles.PlanPro)
	provider := newFakeProvider()
	provider.subs["cus_1"] = []Subscription{{ID: "sub_a"}, {ID: "sub_b"}}
	r := NewReconciler(repo, provider)

	msg, err := r.OnCancelRequested(ctx, "user-1")
	if err != nil {
		t.Fatalf("OnCancelRequested: %v", err)
	}
	if msg != MessageCancelAtEnd {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(provider.cancelled) != 2 {
		t.Fatalf("expected both subscriptions cancelled, got %v", provider.cancelled)
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusCancelling {
		t.Fatalf("expected cancelling, got %q", p.Status)
	}

	// the follow-up subscription.updated keeps the cancelling state
	if _, err := r.OnSubscriptionChanged(ctx, "cus_1", "active", true); err != nil {
		t.Fatalf("OnSubscriptionChanged: %v", err)
	}
	p, _ = repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusCancelling {
		t.Fatalf("expected cancelling after provider echo, got %q", p.Status)
	}
}

func TestCancelProviderFailureLeavesStatus(t *testing.T) {
	repo := profiles.NewMemoryRepo()
	ctx := context.Background()
	_ = repo.UpsertSubscription(ctx, "user-1", "cus_1", profiles.StatusActive, profiles.PlanPro)
	provider := newFakeProvider()
	provider.err = errors.New("card_declined")
	r := NewReconciler(repo, provider)

	if _, err := r.OnCancelRequested(ctx, "user-1"); err == nil {
		t.Fatal("expected provider error")
	}
	p, _ := repo.Get(ctx, "user-1")
	if p.Status != profiles.StatusActive {
		t.Fatalf("status must not change on provider failure, got %q", p.Status)
	}
}

func TestParseStripeEventOwnerFallback(t *testing.T) {
	provider := newFakeProvider()
	ev, err := provider.ConstructEvent(checkoutEventJSON("evt_1", "cus_9", "", "user-meta"), goodSignature)
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	p, ok := ev.Payload.(CheckoutCompleted)
	if !ok {
		t.Fatalf("expected CheckoutCompleted, got %T", ev.Payload)
	}
	if p.OwnerRef != "user-meta" || p.CustomerRef != "cus_9" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	ev, err = provider.ConstructEvent(eventJSON("evt_2", "invoice.paid", map[string]any{"id": "in_1"}), goodSignature)
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	if _, ok := ev.Payload.(Unhandled); !ok {
		t.Fatalf("expected Unhandled, got %T", ev.Payload)
	}
}
