// Package window holds the fixed-window counter stores behind the admission
// controller.
package window

import (
	"context"
	"time"

	"framewise/internal/ratelimit/models"
)

// Store counts admissions per key. Implementations must be safe for
// concurrent use and apply each request atomically.
type Store interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error)
	Reset(ctx context.Context, key string) error
}

// Sweepable stores can drop expired windows in bulk.
type Sweepable interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ Store     = (*RedisStore)(nil)
	_ Store     = (*PostgresStore)(nil)
	_ Store     = (*FallbackStore)(nil)
	_ Sweepable = (*InMemoryStore)(nil)
	_ Sweepable = (*PostgresStore)(nil)
)
