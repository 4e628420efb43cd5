package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"framewise/pkg/platform/audit/outbox"
	"framewise/pkg/platform/tx"
)

// maxFetch caps a single poll regardless of the configured batch size.
const maxFetch = 1000

// maxErrorLen bounds last_error so a verbose broker error cannot bloat rows.
const maxErrorLen = 512

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, e *outbox.Entry) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append outbox entry %s: %w", e.ID, err)
	}
	return nil
}

// FetchUnprocessed skips rows locked by another relay so several replicas
// can poll the same table.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	limit = min(limit, maxFetch)

	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, attempts, last_error
		FROM outbox
		WHERE processed_at IS NULL AND parked_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		e := &outbox.Entry{}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.CreatedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox entry %s processed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("outbox entry %s not pending", id)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	var parked bool
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    parked_at = CASE WHEN $3::int > 0 AND attempts + 1 >= $3::int THEN $4::timestamptz END
		WHERE id = $1 AND processed_at IS NULL
		RETURNING parked_at IS NOT NULL`,
		id, reason, maxAttempts, at,
	).Scan(&parked)
	if err != nil {
		return false, fmt.Errorf("mark outbox entry %s failed: %w", id, err)
	}
	return parked, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT count(*) FROM outbox WHERE processed_at IS NULL AND parked_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox entries: %w", err)
	}
	return n, nil
}

// DeleteProcessedBefore purges published entries. Parked entries are kept
// for inspection.
func (s *Store) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM outbox WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}
