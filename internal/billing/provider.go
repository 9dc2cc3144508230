package billing

import "context"

// CheckoutRequest describes a subscription checkout for one owner.
type CheckoutRequest struct {
	PriceID    string
	OwnerRef   string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the hosted checkout the client is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription is a provider subscription as far as cancellation cares.
type Subscription struct {
	ID                string
	CustomerRef       string
	Status            string
	CancelAtPeriodEnd bool
}

// Provider is the payment provider adapter.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	ListActiveSubscriptions(ctx context.Context, customerRef string) ([]Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	// ConstructEvent verifies the signature header and parses the payload.
	ConstructEvent(payload []byte, signature string) (Event, error)
}
