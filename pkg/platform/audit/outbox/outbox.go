// Package outbox stages audit events in the same transaction as the ledger
// write that produced them, for a relay to publish afterwards.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one staged record. An entry is pending until it is either
// published or parked after repeated publish failures.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	ParkedAt      *time.Time
	Attempts      int
	LastError     string
}

func NewEntry(aggregateType, aggregateID, eventType string, payload []byte) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil && e.ParkedAt == nil
}

// Headers are attached to the published record so consumers can route
// without decoding the payload.
func (e *Entry) Headers() map[string]string {
	return map[string]string{
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"event_type":     e.EventType,
	}
}

// Store persists entries. Implementations join a transaction carried by ctx.
type Store interface {
	Append(ctx context.Context, entry *Entry) error

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// MarkFailed records a failed publish. Once attempts reach maxAttempts
	// the entry is parked and no longer fetched; parked reports that.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (parked bool, err error)

	CountPending(ctx context.Context) (int64, error)

	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
