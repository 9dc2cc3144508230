package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/shared/telemetry"
)

const (
	MessageCancelled       = "Subscription cancelled"
	MessageCancelAtEnd     = "Subscription will be cancelled at the end of the billing period"
	providerStatusActive   = "active"
	providerStatusTrialing = "trialing"
)

// Reconciler maps provider events onto profile state. Each call overwrites the
// profile with the provider's last known status, so replays are harmless.
type Reconciler struct {
	Profiles profiles.Repo
	Provider Provider
}

// NewReconciler constructs a Reconciler. provider may be nil when billing is not configured.
func NewReconciler(repo profiles.Repo, provider Provider) *Reconciler {
	return &Reconciler{Profiles: repo, Provider: provider}
}

// MapProviderStatus converts a provider subscription status into a local Status.
func MapProviderStatus(providerStatus string, cancelAtPeriodEnd bool) profiles.Status {
	switch strings.ToLower(providerStatus) {
	case providerStatusActive:
		if cancelAtPeriodEnd {
			return profiles.StatusCancelling
		}
		return profiles.StatusActive
	case providerStatusTrialing:
		return profiles.StatusActive
	default:
		return profiles.StatusInactive
	}
}

// Apply dispatches a parsed event. Unhandled types are a no-op.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	switch p := ev.Payload.(type) {
	case CheckoutCompleted:
		return r.OnCheckoutCompleted(ctx, p.CustomerRef, p.OwnerRef)
	case SubscriptionChanged:
		_, err := r.OnSubscriptionChanged(ctx, p.CustomerRef, p.Status, p.CancelAtPeriodEnd)
		return err
	default:
		telemetry.Info("billing.event.unhandled", map[string]any{"event_id": ev.ID, "type": ev.Type})
		return nil
	}
}

// OnCheckoutCompleted marks the owner active on the pro plan and records the customer.
// upload_count is never touched.
func (r *Reconciler) OnCheckoutCompleted(ctx context.Context, customerRef, ownerRef string) error {
	if strings.TrimSpace(ownerRef) == "" {
		telemetry.Warn("billing.checkout.no_owner", map[string]any{"customer_ref": customerRef})
		return nil
	}
	if err := r.Profiles.UpsertSubscription(ctx, ownerRef, customerRef, profiles.StatusActive, profiles.PlanPro); err != nil {
		return fmt.Errorf("activate subscription for %s: %w", ownerRef, err)
	}
	telemetry.Info("billing.checkout.activated", map[string]any{
		"user_id":      ownerRef,
		"customer_ref": customerRef,
	})
	return nil
}

// OnSubscriptionChanged applies a provider status to the profile owning customerRef.
// It reports false when no profile matches.
func (r *Reconciler) OnSubscriptionChanged(ctx context.Context, customerRef, providerStatus string, cancelAtPeriodEnd bool) (bool, error) {
	p, err := r.Profiles.FindByCustomerRef(ctx, customerRef)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			telemetry.Info("billing.subscription.unknown_customer", map[string]any{
				"customer_ref": customerRef,
				"status":       providerStatus,
			})
			return false, nil
		}
		return false, fmt.Errorf("find profile for customer %s: %w", customerRef, err)
	}

	status := MapProviderStatus(providerStatus, cancelAtPeriodEnd)
	if err := r.Profiles.SetStatus(ctx, p.UserID, status); err != nil {
		return false, fmt.Errorf("set status for %s: %w", p.UserID, err)
	}
	telemetry.Info("billing.subscription.updated", map[string]any{
		"user_id":         p.UserID,
		"customer_ref":    customerRef,
		"provider_status": providerStatus,
		"status":          string(status),
	})
	return true, nil
}

// OnCancelRequested cancels at period end with the provider when the owner has a
// customer reference; otherwise it only marks the profile cancelled.
func (r *Reconciler) OnCancelRequested(ctx context.Context, ownerRef string) (string, error) {
	if strings.TrimSpace(ownerRef) == "" {
		return "", ErrInvalidInput
	}
	p, err := r.Profiles.Get(ctx, ownerRef)
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		return "", fmt.Errorf("load profile %s: %w", ownerRef, err)
	}

	if err != nil || p.CustomerRef == "" {
		if err == nil {
			if err := r.Profiles.SetStatus(ctx, ownerRef, profiles.StatusCancelled); err != nil {
				return "", fmt.Errorf("set status for %s: %w", ownerRef, err)
			}
		}
		return MessageCancelled, nil
	}

	if r.Provider == nil {
		return "", ErrNotConfigured
	}
	subs, err := r.Provider.ListActiveSubscriptions(ctx, p.CustomerRef)
	if err != nil {
		return "", err
	}
	for _, sub := range subs {
		if err := r.Provider.CancelAtPeriodEnd(ctx, sub.ID); err != nil {
			return "", err
		}
	}
	if err := r.Profiles.SetStatus(ctx, ownerRef, profiles.StatusCancelling); err != nil {
		return "", fmt.Errorf("set status for %s: %w", ownerRef, err)
	}
	telemetry.Info("billing.cancel.requested", map[string]any{
		"user_id":       ownerRef,
		"subscriptions": len(subs),
	})
	return MessageCancelAtEnd, nil
}
