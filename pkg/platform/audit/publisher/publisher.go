// Package publisher stamps and records audit events.
package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	dErrors "framewise/pkg/domain-errors"
	audit "framewise/pkg/platform/audit"
	"framewise/pkg/requestcontext"
)

// Publisher appends events synchronously so they commit or roll back with
// the transaction carried by the caller's context.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills the id, timestamp and request id from ctx when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "audit event action is required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit_persist_failed",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
		return fmt.Errorf("record audit event %s: %w", event.Action, err)
	}
	return nil
}

func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}
