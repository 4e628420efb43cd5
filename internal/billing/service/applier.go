package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"framewise/internal/billing/models"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/requestcontext"
)

// SubscriptionStore persists tenant subscription state.
type SubscriptionStore interface {
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	FindByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	Save(ctx context.Context, sub *models.Subscription) error
}

// SubscriptionApplier turns typed provider events into subscription state.
// Every mutation is an upsert keyed by the provider subscription id, so
// applying the same event twice leaves the same row.
type SubscriptionApplier struct {
	store  SubscriptionStore
	logger *slog.Logger
}

func NewSubscriptionApplier(store SubscriptionStore, logger *slog.Logger) *SubscriptionApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionApplier{store: store, logger: logger}
}

func (a *SubscriptionApplier) Apply(ctx context.Context, ev models.Event, tenantID string) error {
	switch e := ev.(type) {
	case models.CheckoutCompleted:
		return a.checkoutCompleted(ctx, e, tenantID)
	case models.SubscriptionChanged:
		return a.subscriptionChanged(ctx, e, tenantID)
	case models.SubscriptionDeleted:
		return a.setStatus(ctx, e.SubscriptionID, tenantID, func(sub *models.Subscription) {
			sub.Status = models.SubscriptionCanceled
			sub.PlanKey = models.PlanFree
		})
	case models.InvoicePaymentFailed:
		return a.setStatus(ctx, e.SubscriptionID, tenantID, func(sub *models.Subscription) {
			sub.Status = models.SubscriptionPastDue
		})
	case models.InvoicePaid:
		return a.setStatus(ctx, e.SubscriptionID, tenantID, func(sub *models.Subscription) {
			sub.Status = models.SubscriptionActive
		})
	case models.Unhandled:
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (a *SubscriptionApplier) checkoutCompleted(ctx context.Context, e models.CheckoutCompleted, tenantID string) error {
	sub, err := a.locate(ctx, e.SubscriptionID, e.CustomerID)
	if err != nil {
		return err
	}
	if e.CustomerID != "" {
		sub.CustomerID = e.CustomerID
	}
	if e.SubscriptionID != "" {
		sub.SubscriptionID = e.SubscriptionID
	}
	if tenantID != "" {
		sub.TenantID = tenantID
	}
	sub.Status = models.SubscriptionActive
	return a.save(ctx, sub)
}

func (a *SubscriptionApplier) subscriptionChanged(ctx context.Context, e models.SubscriptionChanged, tenantID string) error {
	sub, err := a.locate(ctx, e.SubscriptionID, e.CustomerID)
	if err != nil {
		return err
	}
	sub.SubscriptionID = e.SubscriptionID
	if e.CustomerID != "" {
		sub.CustomerID = e.CustomerID
	}
	if tenantID != "" {
		sub.TenantID = tenantID
	}
	if e.Status != "" {
		sub.Status = e.Status
	}
	sub.PlanKey = e.PlanKey
	if e.CurrentPeriodEnd != nil {
		end := *e.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	return a.save(ctx, sub)
}

// setStatus mutates an existing row. Events for subscriptions this service
// never saw are acknowledged without a mutation.
func (a *SubscriptionApplier) setStatus(ctx context.Context, subscriptionID, tenantID string, mutate func(*models.Subscription)) error {
	if subscriptionID == "" {
		a.logger.WarnContext(ctx, "billing_event_without_subscription")
		return nil
	}
	sub, err := a.store.FindBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		a.logger.WarnContext(ctx, "billing_subscription_unknown", "subscription_id", subscriptionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find subscription %s: %w", subscriptionID, err)
	}
	if sub.TenantID == "" && tenantID != "" {
		sub.TenantID = tenantID
	}
	mutate(sub)
	return a.save(ctx, sub)
}

// locate finds the row by subscription id, then by customer id, and starts
// a new one when neither matches.
func (a *SubscriptionApplier) locate(ctx context.Context, subscriptionID, customerID string) (*models.Subscription, error) {
	if subscriptionID != "" {
		sub, err := a.store.FindBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("find subscription %s: %w", subscriptionID, err)
		}
	}
	if customerID != "" {
		sub, err := a.store.FindByCustomerID(ctx, customerID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("find customer %s: %w", customerID, err)
		}
	}
	return models.NewSubscription(customerID, requestcontext.Now(ctx)), nil
}

func (a *SubscriptionApplier) save(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = requestcontext.Now(ctx)
	if err := a.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}
