package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanKey names a billing plan.
type PlanKey string

const (
	PlanFree    PlanKey = "free"
	PlanCreator PlanKey = "creator"
	PlanPro     PlanKey = "pro"
	PlanStudio  PlanKey = "studio"
)

var validPlans = map[PlanKey]bool{
	PlanFree:    true,
	PlanCreator: true,
	PlanPro:     true,
	PlanStudio:  true,
}

func (p PlanKey) IsValid() bool {
	return validPlans[p]
}

// ParsePlanKey maps a price lookup key or metadata value to a plan. Lookup
// keys may carry an interval suffix such as "pro_monthly".
func ParsePlanKey(s string) (PlanKey, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if p := PlanKey(s); p.IsValid() {
		return p, true
	}
	if i := strings.IndexAny(s, "_-"); i > 0 {
		if p := PlanKey(s[:i]); p.IsValid() {
			return p, true
		}
	}
	return "", false
}

// SubscriptionStatus mirrors the provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionPaused     SubscriptionStatus = "paused"
)

// Subscription is a tenant's billing state. SubscriptionID is the provider's
// id and identifies the row across redeliveries.
type Subscription struct {
	ID               uuid.UUID
	TenantID         string
	CustomerID       string
	SubscriptionID   string
	PlanKey          PlanKey
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSubscription starts a subscription row on the free plan.
func NewSubscription(customerID string, now time.Time) *Subscription {
	return &Subscription{
		ID:         uuid.New(),
		CustomerID: customerID,
		PlanKey:    PlanFree,
		Status:     SubscriptionIncomplete,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
