package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"framewise/internal/billing/models"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/platform/tx"
)

// PostgresStore persists subscriptions in billing_subscriptions. It joins a
// transaction carried by the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	subscriptionColumns = `id, COALESCE(tenant_id, ''), customer_id, COALESCE(subscription_id, ''),
		plan_key, status, current_period_end, created_at, updated_at`

	uniqueViolation = "23505"
)

func (s *PostgresStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	if subscriptionID == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, `SELECT `+subscriptionColumns+`
		FROM billing_subscriptions WHERE subscription_id = $1`, subscriptionID)
}

func (s *PostgresStore) FindByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	if customerID == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, `SELECT `+subscriptionColumns+`
		FROM billing_subscriptions WHERE customer_id = $1
		ORDER BY updated_at DESC LIMIT 1`, customerID)
}

func (s *PostgresStore) Save(ctx context.Context, sub *models.Subscription) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO billing_subscriptions
			(id, tenant_id, customer_id, subscription_id, plan_key, status, current_period_end, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id          = EXCLUDED.tenant_id,
			customer_id        = EXCLUDED.customer_id,
			subscription_id    = EXCLUDED.subscription_id,
			plan_key           = EXCLUDED.plan_key,
			status             = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at         = EXCLUDED.updated_at
	`,
		sub.ID, sub.TenantID, sub.CustomerID, sub.SubscriptionID,
		string(sub.PlanKey), string(sub.Status), sub.CurrentPeriodEnd,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.Subscription, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `SELECT `+subscriptionColumns+`
		FROM billing_subscriptions WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg string) (*models.Subscription, error) {
	sub, err := scanSubscription(tx.Pick(ctx, s.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return sub, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub       models.Subscription
		planKey   string
		status    string
		periodEnd sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.SubscriptionID,
		&planKey, &status, &periodEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.PlanKey = models.PlanKey(planKey)
	sub.Status = models.SubscriptionStatus(status)
	if periodEnd.Valid {
		end := periodEnd.Time
		sub.CurrentPeriodEnd = &end
	}
	return &sub, nil
}
