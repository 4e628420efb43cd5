package window

import (
	"context"
	"log/slog"
	"time"

	"framewise/internal/ratelimit/models"
	"framewise/pkg/platform/circuit"
)

// FallbackStore counts against a shared store and switches to a local
// InMemoryStore once the shared store keeps failing. Results served by the
// local counter are marked Degraded. Budgets are per instance while degraded.
type FallbackStore struct {
	primary  Store
	local    *InMemoryStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
	onChange func(degraded bool)
}

type FallbackOption func(*FallbackStore)

func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(s *FallbackStore) {
		s.logger = logger
	}
}

// WithStateHook is called on every open or close transition.
func WithStateHook(fn func(degraded bool)) FallbackOption {
	return func(s *FallbackStore) {
		s.onChange = fn
	}
}

func NewFallbackStore(primary Store, local *InMemoryStore, breaker *circuit.Breaker, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{
		primary: primary,
		local:   local,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FallbackStore) Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	if s.breaker.UsePrimary() {
		res, err := s.primary.Allow(ctx, key, max, window)
		if err == nil {
			s.transition(ctx, s.breaker.RecordSuccess(), nil)
			if s.breaker.State() == circuit.StateClosed {
				return res, nil
			}
			// trial call succeeded but the circuit is still open; keep the
			// local counter authoritative until it closes
		} else {
			s.transition(ctx, s.breaker.RecordFailure(), err)
			if s.breaker.State() == circuit.StateClosed {
				return nil, err
			}
		}
	}

	res := s.local.Check(key, max, window)
	res.Degraded = true
	return &res, nil
}

// Reset clears key in both stores. A shared store failure is returned after
// the local window is cleared.
func (s *FallbackStore) Reset(ctx context.Context, key string) error {
	_ = s.local.Reset(ctx, key)
	return s.primary.Reset(ctx, key)
}

// Degraded reports whether requests are currently counted locally.
func (s *FallbackStore) Degraded() bool {
	return s.breaker.State() == circuit.StateOpen
}

func (s *FallbackStore) transition(ctx context.Context, change circuit.StateChange, cause error) {
	switch {
	case change.Opened:
		s.logger.WarnContext(ctx, "rate_limit_store_degraded",
			"breaker", s.breaker.Name(),
			"error", cause,
		)
		if s.onChange != nil {
			s.onChange(true)
		}
	case change.Closed:
		s.logger.InfoContext(ctx, "rate_limit_store_recovered",
			"breaker", s.breaker.Name(),
		)
		if s.onChange != nil {
			s.onChange(false)
		}
	}
}
