// Package sweeper periodically drops expired admission windows so per-key
// state does not grow without bound.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"framewise/internal/ratelimit/metrics"
)

// Result describes one sweep run.
type Result struct {
	Removed  int64
	Duration time.Duration
}

type Store interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

type Sweeper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(store Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		logger:   slog.Default(),
		interval: time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is cancelled. Failed runs are logged
// and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "rate limit sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("rate limit sweeper stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep and records its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	removed, err := s.store.DeleteExpired(ctx, s.now())
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveSweep(removed, duration.Seconds(), err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "rate_limit_sweep_failed",
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return nil, fmt.Errorf("sweep expired windows: %w", err)
	}

	s.logger.InfoContext(ctx, "rate_limit_sweep_completed",
		"windows_removed", removed,
		"duration_ms", duration.Milliseconds(),
	)
	return &Result{Removed: removed, Duration: duration}, nil
}
