package billing

import (
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v83/webhook"
)

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider("", "whsec_x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestStripeConstructEventVerifiesSignature(t *testing.T) {
	const secret = "whsec_test_secret"
	p, err := NewStripeProvider("sk_test_123", secret)
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	payload := checkoutEventJSON("evt_signed", "cus_42", "user-42", "")
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})

	ev, err := p.ConstructEvent(payload, signed.Header)
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	got, ok := ev.Payload.(CheckoutCompleted)
	if !ok || got.OwnerRef != "user-42" || got.CustomerRef != "cus_42" {
		t.Fatalf("unexpected payload %#v", ev.Payload)
	}

	if _, err := p.ConstructEvent(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := p.ConstructEvent([]byte(`{"id":"evt_other"}`), signed.Header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered body must fail, got %v", err)
	}
}

func TestStripeConstructEventUnsupportedPayload(t *testing.T) {
	const secret = "whsec_test_secret"
	p, err := NewStripeProvider("sk_test_123", secret)
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	payload := []byte(`{"id":"evt_bad","type":"checkout.session.completed","data":{"object":[1,2]}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	_, err = p.ConstructEvent(payload, signed.Header)
	if !errors.Is(err, ErrUnsupportedPayload) {
		t.Fatalf("expected ErrUnsupportedPayload, got %v", err)
	}
	if errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("a verified signature must not be reported as invalid: %v", err)
	}
}

func TestStripeConstructEventWithoutSecret(t *testing.T) {
	p, err := NewStripeProvider("sk_test_123", "")
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	if p.WebhookConfigured() {
		t.Fatal("expected webhook to be unconfigured")
	}
	if _, err := p.ConstructEvent([]byte(`{}`), "t=1,v1=x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
