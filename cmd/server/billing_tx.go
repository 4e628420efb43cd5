package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "framewise/pkg/domain-errors"
	txcontext "framewise/pkg/platform/tx"
)

const defaultBillingTxTimeout = 5 * time.Second

// billingPostgresTx runs a gate step in one Postgres transaction. The ledger
// upsert inside it takes the event row lock, which serializes concurrent
// deliveries of the same event across instances.
type billingPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newBillingPostgresTx(db *sql.DB) *billingPostgresTx {
	return &billingPostgresTx{db: db}
}

func (t *billingPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := t.timeout
		if timeout == 0 {
			timeout = defaultBillingTxTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return txcontext.Run(ctx, t.db, fn)
}
