package models

import "time"

// EventStatus is where an event is in its lifecycle. An event with no ledger
// record has not been seen.
type EventStatus string

const (
	// StatusSeen means the event was recorded but its mutations have not
	// completed. Redelivery retries it.
	StatusSeen EventStatus = "seen"
	// StatusProcessed is terminal.
	StatusProcessed EventStatus = "processed"
)

// EventRecord is the ledger row for one provider event id.
type EventRecord struct {
	ExternalEventID string
	EventType       string
	TenantID        string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

func (r *EventRecord) Status() EventStatus {
	if r.ProcessedAt != nil {
		return StatusProcessed
	}
	return StatusSeen
}

func (r *EventRecord) IsProcessed() bool {
	return r.Status() == StatusProcessed
}
