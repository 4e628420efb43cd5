// Package service applies verified provider events exactly once.
//
// The gate records every event id it sees before doing any work, and marks
// the record processed in the same transaction as the business mutation. A
// failed mutation leaves the record unprocessed so the provider's
// redelivery runs it again; a processed record turns every later delivery
// into a no-op acknowledgement.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"framewise/internal/billing/metrics"
	"framewise/internal/billing/models"
	"framewise/internal/platform/tracer"
	dErrors "framewise/pkg/domain-errors"
	audit "framewise/pkg/platform/audit"
	"framewise/pkg/requestcontext"
)

// Outcome is the result of a successful Apply.
type Outcome string

const (
	// OutcomeApplied means this call ran the mutation and marked the event.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyHandled means an earlier or concurrent delivery did.
	OutcomeAlreadyHandled Outcome = "already_handled"
)

var (
	ErrInvalidEnvelope       = dErrors.New(dErrors.CodeInvalidEnvelope, "invalid event envelope")
	ErrEventProcessingFailed = dErrors.New(dErrors.CodeProcessingFailed, "event processing failed")
	ErrLedgerUnavailable     = dErrors.New(dErrors.CodeUnavailable, "event ledger unavailable")
	ErrAuditUnavailable      = dErrors.New(dErrors.CodeAuditUnavailable, "audit trail unavailable")

	errAlreadyHandled = errors.New("event already handled")
)

// EventLedger records seen and processed provider events.
type EventLedger interface {
	GetOrCreate(ctx context.Context, id, eventType, tenantID string) (*models.EventRecord, error)
	// MarkProcessed sets processed_at only while it is unset and reports
	// whether this call set it.
	MarkProcessed(ctx context.Context, id, tenantID string, at time.Time) (bool, error)
	Find(ctx context.Context, id string) (*models.EventRecord, error)
}

// Applier performs the business mutation for one typed event.
type Applier interface {
	Apply(ctx context.Context, ev models.Event, tenantID string) error
}

// Gate is safe for concurrent use.
type Gate struct {
	ledger  EventLedger
	applier Applier
	tx      StoreTx
	auditor audit.Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(g *Gate) {
		g.tracer = t
	}
}

// WithAuditor records processed and failed events. A synchronous publisher
// writes the processed event inside the gate's transaction.
func WithAuditor(e audit.Emitter) Option {
	return func(g *Gate) {
		g.auditor = e
	}
}

// WithStoreTx replaces the in-memory event lock, typically with a database
// transaction.
func WithStoreTx(tx StoreTx) Option {
	return func(g *Gate) {
		g.tx = tx
	}
}

func NewGate(ledger EventLedger, applier Applier, opts ...Option) (*Gate, error) {
	if ledger == nil {
		return nil, fmt.Errorf("event ledger is required")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	g := &Gate{
		ledger:  ledger,
		applier: applier,
		logger:  slog.Default(),
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tx == nil {
		g.tx = NewInMemoryStoreTx(g.metrics)
	}
	return g, nil
}

// Apply runs env's mutation at most once across all deliveries of env.ID.
//
// Errors carry one of ErrInvalidEnvelope, ErrEventProcessingFailed,
// ErrLedgerUnavailable or ErrAuditUnavailable. Only ErrInvalidEnvelope is
// permanent.
func (g *Gate) Apply(ctx context.Context, env *models.Envelope) (outcome Outcome, err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, tracer.SpanGateApply,
		tracer.String(tracer.AttrEventID, env.ID),
		tracer.String(tracer.AttrEventType, env.Type),
	)
	defer func() {
		label := outcomeLabel(outcome, err)
		span.SetAttributes(tracer.String(tracer.AttrGateOutcome, label))
		span.End(err)
		if g.metrics != nil {
			g.metrics.ObserveEvent(env.Type, label, time.Since(start))
		}
	}()

	ev, err := models.ParseEvent(env)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidEnvelope, env.ID, err)
	}

	tenantID := models.ResolveTenant(ev)
	if tenantID != "" {
		span.SetAttributes(tracer.String(tracer.AttrTenantID, tenantID))
	} else if _, unhandled := ev.(models.Unhandled); !unhandled {
		g.unattributed(ctx, span, env)
	}

	rec, err := g.ledger.GetOrCreate(ctx, env.ID, env.Type, tenantID)
	if err != nil {
		return "", g.ledgerFailure(ctx, env, err)
	}
	if rec.IsProcessed() {
		return g.duplicate(ctx, span, env), nil
	}

	var applyErr, auditErr error
	txErr := g.tx.RunInTx(withShardKey(ctx, env.ID), func(txCtx context.Context) error {
		// Re-read under the transaction: in Postgres the upsert holds the
		// row lock until commit, so concurrent deliveries queue here.
		current, err := g.ledger.GetOrCreate(txCtx, env.ID, env.Type, tenantID)
		if err != nil {
			return err
		}
		if current.IsProcessed() {
			return errAlreadyHandled
		}
		if err := g.dispatch(txCtx, ev, tenantID); err != nil {
			applyErr = err
			return err
		}
		marked, err := g.ledger.MarkProcessed(txCtx, env.ID, tenantID, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if !marked {
			return errAlreadyHandled
		}
		if err := g.emit(txCtx, env, tenantID, models.AuditActionEventProcessed, ""); err != nil {
			auditErr = err
			return err
		}
		return nil
	})

	switch {
	case txErr == nil:
		g.logger.InfoContext(ctx, "billing_event_processed",
			"event_id", env.ID,
			"event_type", env.Type,
			"tenant_id", tenantID,
		)
		return OutcomeApplied, nil

	case errors.Is(txErr, errAlreadyHandled):
		return g.duplicate(ctx, span, env), nil

	case applyErr != nil:
		g.logger.ErrorContext(ctx, "billing_event_failed",
			"event_id", env.ID,
			"event_type", env.Type,
			"tenant_id", tenantID,
			"error", applyErr,
		)
		if err := g.emit(ctx, env, tenantID, models.AuditActionEventFailed, applyErr.Error()); err != nil {
			g.logger.WarnContext(ctx, "billing_audit_failed", "event_id", env.ID, "error", err)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrEventProcessingFailed, env.ID, applyErr)

	case auditErr != nil:
		return g.auditFailure(ctx, env, tenantID, auditErr)

	default:
		return "", g.ledgerFailure(ctx, env, txErr)
	}
}

func (g *Gate) dispatch(ctx context.Context, ev models.Event, tenantID string) error {
	ctx, span := g.tracer.Start(ctx, tracer.SpanGateDispatch,
		tracer.String(tracer.AttrEventType, ev.EventType()),
	)
	err := g.applier.Apply(ctx, ev, tenantID)
	span.End(err)
	return err
}

func (g *Gate) duplicate(ctx context.Context, span tracer.Span, env *models.Envelope) Outcome {
	span.AddEvent(tracer.EventDuplicateSkipped)
	g.logger.InfoContext(ctx, "billing_event_duplicate",
		"event_id", env.ID,
		"event_type", env.Type,
	)
	return OutcomeAlreadyHandled
}

// unattributed records an event whose payload names no tenant. Processing
// continues; the subscription row just has no tenant until a later event
// supplies one.
func (g *Gate) unattributed(ctx context.Context, span tracer.Span, env *models.Envelope) {
	span.AddEvent(tracer.EventTenantUnresolved)
	g.logger.WarnContext(ctx, "billing_event_unattributed",
		"event_id", env.ID,
		"event_type", env.Type,
	)
	if g.metrics != nil {
		g.metrics.IncUnattributed(env.Type)
	}
}

func (g *Gate) ledgerFailure(ctx context.Context, env *models.Envelope, err error) error {
	g.logger.ErrorContext(ctx, "billing_ledger_unavailable",
		"event_id", env.ID,
		"event_type", env.Type,
		"error", err,
	)
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, env.ID, err)
}

// auditFailure settles a delivery whose processed-event audit write failed.
// A transactional StoreTx has rolled the mark back, so the provider must
// redeliver. The in-memory StoreTx cannot roll back: the event stays
// processed and only its audit record is missing.
func (g *Gate) auditFailure(ctx context.Context, env *models.Envelope, tenantID string, err error) (Outcome, error) {
	rec, findErr := g.ledger.Find(ctx, env.ID)
	if findErr == nil && rec.IsProcessed() {
		g.logger.WarnContext(ctx, "billing_audit_failed",
			"event_id", env.ID,
			"event_type", env.Type,
			"tenant_id", tenantID,
			"error", err,
		)
		return OutcomeApplied, nil
	}

	g.logger.ErrorContext(ctx, "billing_audit_unavailable",
		"event_id", env.ID,
		"event_type", env.Type,
		"error", err,
	)
	return "", fmt.Errorf("%w: %s: %w", ErrAuditUnavailable, env.ID, err)
}

func (g *Gate) emit(ctx context.Context, env *models.Envelope, tenantID, action, reason string) error {
	if g.auditor == nil {
		return nil
	}
	outcome := "success"
	if reason != "" {
		outcome = "failure"
	}
	return g.auditor.Emit(ctx, audit.Event{
		Action:    action,
		Subject:   env.ID,
		TenantID:  tenantID,
		EventType: env.Type,
		Outcome:   outcome,
		Reason:    reason,
	})
}

func outcomeLabel(outcome Outcome, err error) string {
	switch {
	case err == nil:
		return string(outcome)
	case errors.Is(err, ErrInvalidEnvelope):
		return "invalid_envelope"
	case errors.Is(err, ErrEventProcessingFailed):
		return "processing_failed"
	case errors.Is(err, ErrAuditUnavailable):
		return "audit_unavailable"
	default:
		return "ledger_unavailable"
	}
}
