package service

import (
	"context"
	"time"

	"framewise/internal/billing/metrics"
	dErrors "framewise/pkg/domain-errors"
	platformsync "framewise/pkg/platform/sync"
)

// StoreTx provides a transactional boundary for the ledger mark and the
// business mutations of one event. Implementations may wrap a database
// transaction or, in memory, a lock on the event id.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const defaultTxTimeout = 5 * time.Second

// shardedStoreTx serializes work on the same event id for in-memory stores.
// It cannot roll back; callers rely on the applier's upserts being
// repeatable.
type shardedStoreTx struct {
	mu      *platformsync.ShardedMutex
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewInMemoryStoreTx returns the StoreTx used with the in-memory stores.
func NewInMemoryStoreTx(m *metrics.Metrics) StoreTx {
	return &shardedStoreTx{mu: platformsync.NewShardedMutex(), metrics: m}
}

func (t *shardedStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	key := shardKey(ctx)
	lockStart := time.Now()
	err := t.mu.LockContext(ctx, key)
	if t.metrics != nil {
		t.metrics.ObserveLockWait(time.Since(lockStart))
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: lock wait exceeded")
	}
	defer t.mu.Unlock(key)

	return fn(ctx)
}

type txShardKey struct{}

// withShardKey tags ctx with the event id the in-memory tx locks on.
func withShardKey(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, txShardKey{}, eventID)
}

func shardKey(ctx context.Context) string {
	if id, ok := ctx.Value(txShardKey{}).(string); ok {
		return id
	}
	return ""
}
