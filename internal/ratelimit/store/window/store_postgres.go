package window

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"framewise/internal/ratelimit/models"
	"framewise/pkg/requestcontext"
)

// PostgresStore persists windows in the rate_limit_windows table. A
// transaction-scoped advisory lock serializes requests for the same key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	if key == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	now := requestcontext.Now(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, key); err != nil {
		return nil, fmt.Errorf("acquire rate limit lock: %w", err)
	}

	w := models.Window{Key: key}
	err = tx.QueryRowContext(ctx, `
		SELECT count, reset_at FROM rate_limit_windows WHERE key = $1 FOR UPDATE
	`, key).Scan(&w.Count, &w.ResetAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load rate limit window: %w", err)
	}

	res := w.Admit(max, window, now)

	if res.Allowed {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limit_windows (key, count, reset_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET count = EXCLUDED.count, reset_at = EXCLUDED.reset_at
		`, key, w.Count, w.ResetAt)
		if err != nil {
			return nil, fmt.Errorf("save rate limit window: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rate limit tx: %w", err)
	}
	return &res, nil
}

func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset rate limit window: %w", err)
	}
	return nil
}

// DeleteExpired removes windows whose reset instant is at or before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE reset_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limit windows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
