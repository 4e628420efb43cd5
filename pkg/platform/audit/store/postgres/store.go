package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	audit "framewise/pkg/platform/audit"
	"framewise/pkg/platform/audit/outbox"
	outboxpostgres "framewise/pkg/platform/audit/outbox/store/postgres"
	"framewise/pkg/platform/tx"
)

// Store writes each audit event and its outbox entry in one transaction,
// so an event is relayed if and only if it was recorded.
type Store struct {
	db     *sql.DB
	outbox *outboxpostgres.Store
}

func New(db *sql.DB) *Store {
	return &Store{db: db, outbox: outboxpostgres.New(db)}
}

const eventColumns = `id, timestamp, action, actor, subject, tenant_id, event_type, outcome, reason, request_id`

// Append joins a transaction carried by ctx, or opens its own.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	entry := outbox.NewEntry(audit.AggregateType, event.Subject, event.Action, payload)
	if !event.Timestamp.IsZero() {
		entry.CreatedAt = event.Timestamp
	}

	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		if _, err := tx.Pick(ctx, s.db).ExecContext(ctx,
			`INSERT INTO audit_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			event.ID, event.Timestamp, event.Action, event.Actor, event.Subject,
			event.TenantID, event.EventType, event.Outcome, event.Reason, event.RequestID,
		); err != nil {
			return fmt.Errorf("insert audit event %s: %w", event.ID, err)
		}
		return s.outbox.Append(ctx, entry)
	})
}

// ListBySubject returns events for one subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE subject = $1 ORDER BY timestamp DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Actor, &e.Subject,
			&e.TenantID, &e.EventType, &e.Outcome, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
