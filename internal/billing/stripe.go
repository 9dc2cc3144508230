package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeProvider implements Provider with stripe-go.
type StripeProvider struct {
	sessions      *session.Client
	subscriptions *subscription.Client
	webhookSecret string
}

// NewStripeProvider builds a provider from the secret key and webhook signing secret.
// The webhook secret may be empty for deployments that only create sessions.
func NewStripeProvider(secretKey, webhookSecret string) (*StripeProvider, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	backend := stripe.GetBackend(stripe.APIBackend)
	return &StripeProvider{
		sessions:      &session.Client{B: backend, Key: secretKey},
		subscriptions: &subscription.Client{B: backend, Key: secretKey},
		webhookSecret: strings.TrimSpace(webhookSecret),
	}, nil
}

// WebhookConfigured reports whether signature verification is possible.
func (p *StripeProvider) WebhookConfigured() bool {
	return p != nil && p.webhookSecret != ""
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutSession{}, err
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OwnerRef),
	}
	params.AddMetadata("userId", req.OwnerRef)

	s, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, wrapStripeError(err)
	}
	return CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) ListActiveSubscriptions(ctx context.Context, customerRef string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	var out []Subscription
	iter := p.subscriptions.List(params)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub := iter.Subscription()
		item := Subscription{
			ID:                sub.ID,
			Status:            string(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			item.CustomerRef = sub.Customer.ID
		}
		out = append(out, item)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeError(err)
	}
	return out, nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	return wrapStripeError(err)
}

func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (Event, error) {
	if p.webhookSecret == "" {
		return Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return Event{}, ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, signature, p.webhookSecret); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	// the API version is not checked; Stripe may sign events newer than the SDK pins
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	return ParseStripeEvent(ev)
}

// ProviderError keeps the human-readable Stripe message, which the billing endpoints
// return verbatim.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }
func (e *ProviderError) Unwrap() error { return e.Err }

func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return &ProviderError{Message: stripeErr.Msg, Err: err}
	}
	return err
}

var _ Provider = (*StripeProvider)(nil)
