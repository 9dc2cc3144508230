package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"
)

const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// Payload is one of CheckoutCompleted, SubscriptionChanged or Unhandled.
type Payload interface {
	eventPayload()
}

// Event is a verified provider event reduced to the fields the reconciler reads.
type Event struct {
	ID      string
	Type    string
	Payload Payload
}

// CheckoutCompleted carries checkout.session.completed.
type CheckoutCompleted struct {
	SessionID   string
	CustomerRef string
	// OwnerRef is client_reference_id, falling back to metadata.userId.
	OwnerRef string
}

// SubscriptionChanged carries customer.subscription.updated and .deleted.
type SubscriptionChanged struct {
	SubscriptionID    string
	CustomerRef       string
	Status            string
	CancelAtPeriodEnd bool
}

// Unhandled is any other event type; it is acknowledged and ignored.
type Unhandled struct{}

func (CheckoutCompleted) eventPayload()   {}
func (SubscriptionChanged) eventPayload() {}
func (Unhandled) eventPayload()           {}

// ParseStripeEvent decodes the data.object of a verified Stripe event.
func ParseStripeEvent(ev stripe.Event) (Event, error) {
	out := Event{ID: ev.ID, Type: string(ev.Type), Payload: Unhandled{}}
	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch out.Type {
	case TypeCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return Event{}, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedPayload, out.Type, err)
		}
		owner := session.ClientReferenceID
		if owner == "" {
			owner = session.Metadata["userId"]
		}
		p := CheckoutCompleted{SessionID: session.ID, OwnerRef: owner}
		if session.Customer != nil {
			p.CustomerRef = session.Customer.ID
		}
		out.Payload = p
	case TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Event{}, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedPayload, out.Type, err)
		}
		p := SubscriptionChanged{
			SubscriptionID:    sub.ID,
			Status:            string(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			p.CustomerRef = sub.Customer.ID
		}
		out.Payload = p
	}
	return out, nil
}
