// Package service exposes the admission controller used by middleware and
// the internal admission API.
//
// Usage:
//
//	limiter, _ := service.New(window.NewInMemoryStore(), config.DefaultPolicies())
//	result, _ := limiter.Admit(ctx, models.ClassWriteInvite, clientIP, email)
//	if !result.Allowed {
//	    // respond 429
//	}
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"framewise/internal/platform/privacy"
	"framewise/internal/platform/tracer"
	"framewise/internal/ratelimit/config"
	"framewise/internal/ratelimit/metrics"
	"framewise/internal/ratelimit/models"
	dErrors "framewise/pkg/domain-errors"
)

// WindowStore counts admissions per key.
type WindowStore interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error)
	Reset(ctx context.Context, key string) error
}

// Decision is an admission result together with the key it was counted under.
type Decision struct {
	Key   string
	Class models.OperationClass
	models.AdmissionResult
}

// Limiter enforces fixed-window budgets. Safe for concurrent use.
type Limiter struct {
	store    WindowStore
	policies config.Policies
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(l *Limiter) {
		l.tracer = t
	}
}

func New(store WindowStore, policies config.Policies, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if policies == nil {
		policies = config.DefaultPolicies()
	}
	l := &Limiter{
		store:    store,
		policies: policies,
		logger:   slog.Default(),
		tracer:   tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check counts one request against key with an explicit budget.
func (l *Limiter) Check(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "admission key is required")
	}
	if max < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "max must be at least 1")
	}
	if window < time.Millisecond {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "window must be at least 1ms")
	}

	start := time.Now()
	res, err := l.store.Allow(ctx, key, max, window)
	if l.metrics != nil {
		l.metrics.ObserveLatency(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "check admission window")
	}
	return res, nil
}

// Admit counts one request for class using the configured policy.
func (l *Limiter) Admit(ctx context.Context, class models.OperationClass, identity string, discriminator ...string) (*Decision, error) {
	policy, ok := l.policies.Lookup(class)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no admission policy for operation class "+class.String())
	}
	return l.AdmitWith(ctx, class, policy, identity, discriminator...)
}

// AdmitWith counts one request for class against an explicit policy.
func (l *Limiter) AdmitWith(ctx context.Context, class models.OperationClass, policy config.Policy, identity string, discriminator ...string) (*Decision, error) {
	key := models.BuildKey(class, identity, discriminator...)

	ctx, span := l.tracer.Start(ctx, tracer.SpanAdmissionCheck,
		tracer.String(tracer.AttrOperationClass, class.String()),
		tracer.String(tracer.AttrAdmissionKey, tracer.HashKey(key)),
	)

	res, err := l.Check(ctx, key, policy.Max, policy.Window)
	if err != nil {
		span.End(err)
		if l.metrics != nil {
			l.metrics.IncStoreErrors(class.String())
		}
		return nil, err
	}
	span.SetAttributes(
		tracer.Bool(tracer.AttrAllowed, res.Allowed),
		tracer.Int64(tracer.AttrRemaining, int64(res.Remaining)),
	)
	span.End(nil)

	if l.metrics != nil {
		l.metrics.ObserveDecision(class.String(), res.Allowed)
	}
	if !res.Allowed {
		l.logger.WarnContext(ctx, "rate_limit_rejected",
			"class", class.String(),
			"ip_prefix", privacy.AnonymizeIP(identity),
			"limit", res.Limit,
			"retry_after_sec", res.RetryAfterSec,
		)
	}

	return &Decision{Key: key, Class: class, AdmissionResult: *res}, nil
}

// Reset drops the window that Admit would count the same arguments under,
// restoring the full budget. Used by operators to unblock a caller.
func (l *Limiter) Reset(ctx context.Context, class models.OperationClass, identity string, discriminator ...string) (string, error) {
	key := models.BuildKey(class, identity, discriminator...)
	if err := l.store.Reset(ctx, key); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "reset admission window")
	}
	l.logger.InfoContext(ctx, "rate_limit_reset",
		"class", class.String(),
		"ip_prefix", privacy.AnonymizeIP(identity),
	)
	return key, nil
}

// Policy returns the configured policy for class.
func (l *Limiter) Policy(class models.OperationClass) (config.Policy, bool) {
	return l.policies.Lookup(class)
}
