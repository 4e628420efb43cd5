package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event records one auditable action. It is serialized as the outbox
// payload, so the JSON names are part of the topic contract.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	// Actor is the calling service, or empty when the billing provider
	// caused the action.
	Actor string `json:"actor,omitempty"`
	// Subject is the external identifier the action concerns, such as a
	// provider event id or an admission key.
	Subject   string `json:"subject"`
	TenantID  string `json:"tenant_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

// Emitter is satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// AggregateType labels audit rows in the outbox.
const AggregateType = "audit_event"
