package models

import "time"

// WebhookAck acknowledges a delivered event.
type WebhookAck struct {
	Received   bool `json:"received"`
	Idempotent bool `json:"idempotent,omitempty"`
}

// Audit actions emitted by the gate.
const (
	AuditActionEventProcessed = "billing_event_processed"
	AuditActionEventFailed    = "billing_event_failed"
)

// SubscriptionResponse is one row of a tenant's subscription listing.
type SubscriptionResponse struct {
	SubscriptionID   string     `json:"subscription_id"`
	CustomerID       string     `json:"customer_id"`
	TenantID         string     `json:"tenant_id"`
	PlanKey          PlanKey    `json:"plan_key"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type SubscriptionListResponse struct {
	TenantID      string                 `json:"tenant_id"`
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

// EventRecordResponse reports where one provider event is in the ledger.
type EventRecordResponse struct {
	EventID     string      `json:"event_id"`
	EventType   string      `json:"event_type"`
	TenantID    string      `json:"tenant_id,omitempty"`
	Status      EventStatus `json:"status"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
