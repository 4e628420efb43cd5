package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"framewise/internal/billing/models"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/platform/tx"
	"framewise/pkg/requestcontext"
)

// PostgresStore persists the ledger in webhook_events. It joins a
// transaction carried by the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `external_event_id, event_type, COALESCE(tenant_id, ''), processed_at, created_at`

func (s *PostgresStore) GetOrCreate(ctx context.Context, id, eventType, tenantID string) (*models.EventRecord, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO webhook_events (external_event_id, event_type, tenant_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (external_event_id) DO UPDATE
			SET tenant_id = COALESCE(webhook_events.tenant_id, EXCLUDED.tenant_id)
		RETURNING `+recordColumns,
		id, eventType, tenantID, requestcontext.Now(ctx),
	)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upsert webhook event: %w", err)
	}
	return rec, nil
}

// MarkProcessed sets processed_at only while it is still NULL.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id, tenantID string, at time.Time) (bool, error) {
	q := tx.Pick(ctx, s.db)
	result, err := q.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed_at = $2, tenant_id = COALESCE(NULLIF($3, ''), tenant_id)
		WHERE external_event_id = $1 AND processed_at IS NULL
	`, id, at, tenantID)
	if err != nil {
		return false, fmt.Errorf("mark webhook event processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark webhook event processed: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE external_event_id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*models.EventRecord, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM webhook_events WHERE external_event_id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find webhook event: %w", err)
	}
	return rec, nil
}

func scanRecord(row *sql.Row) (*models.EventRecord, error) {
	var (
		rec         models.EventRecord
		processedAt sql.NullTime
	)
	if err := row.Scan(&rec.ExternalEventID, &rec.EventType, &rec.TenantID, &processedAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		at := processedAt.Time
		rec.ProcessedAt = &at
	}
	return &rec, nil
}
