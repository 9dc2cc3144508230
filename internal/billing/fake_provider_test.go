package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v83"
)

const goodSignature = "t=1,v1=good"

type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string][]Subscription
	cancelled []string
	sessions  []CheckoutRequest
	err       error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: map[string][]Subscription{}}
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return CheckoutSession{}, f.err
	}
	f.sessions = append(f.sessions, req)
	return CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeProvider) ListActiveSubscriptions(_ context.Context, customerRef string) ([]Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Subscription(nil), f.subs[customerRef]...), nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

func (f *fakeProvider) ConstructEvent(payload []byte, signature string) (Event, error) {
	if signature != goodSignature {
		return Event{}, ErrInvalidSignature
	}
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	return ParseStripeEvent(ev)
}

func checkoutEventJSON(id, customer, clientRef, metaUser string) []byte {
	obj := map[string]any{
		"id":       "cs_1",
		"object":   "checkout.session",
		"customer": customer,
		"metadata": map[string]string{},
	}
	if clientRef != "" {
		obj["client_reference_id"] = clientRef
	}
	if metaUser != "" {
		obj["metadata"] = map[string]string{"userId": metaUser}
	}
	return eventJSON(id, TypeCheckoutCompleted, obj)
}

func subscriptionEventJSON(id, eventType, customer, status string, cancelAtPeriodEnd bool) []byte {
	return eventJSON(id, eventType, map[string]any{
		"id":                   "sub_1",
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
	})
}

func eventJSON(id, eventType string, obj map[string]any) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": obj},
	})
	return raw
}
