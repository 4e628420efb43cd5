package window

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"framewise/internal/ratelimit/models"
	"framewise/pkg/platform/circuit"
)

var errBackendDown = errors.New("connection refused")

type flakyStore struct {
	*InMemoryStore
	fail  bool
	calls int
}

func (f *flakyStore) Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	f.calls++
	if f.fail {
		return nil, errBackendDown
	}
	return f.InMemoryStore.Allow(ctx, key, max, window)
}

type FallbackStoreSuite struct {
	suite.Suite
	clock       *fakeClock
	primary     *flakyStore
	store       *FallbackStore
	transitions []bool
}

func TestFallbackStoreSuite(t *testing.T) {
	suite.Run(t, new(FallbackStoreSuite))
}

func (s *FallbackStoreSuite) SetupTest() {
	s.clock = newFakeClock()
	s.transitions = nil
	s.primary = &flakyStore{InMemoryStore: NewInMemoryStore(WithClock(s.clock.Now))}
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithTrialInterval(time.Second),
		circuit.WithClock(s.clock.Now),
	)
	s.store = NewFallbackStore(s.primary, NewInMemoryStore(WithClock(s.clock.Now)), breaker,
		WithFallbackLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithStateHook(func(degraded bool) { s.transitions = append(s.transitions, degraded) }),
	)
}

func (s *FallbackStoreSuite) TestHealthyPrimaryIsAuthoritative() {
	ctx := context.Background()
	res, err := s.store.Allow(ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.False(res.Degraded)
	s.Equal(1, s.primary.calls)
	s.False(s.store.Degraded())
}

func (s *FallbackStoreSuite) TestFailuresBelowThresholdSurface() {
	s.primary.fail = true
	_, err := s.store.Allow(context.Background(), "k", 2, time.Minute)
	s.ErrorIs(err, errBackendDown)
	s.False(s.store.Degraded())
}

func (s *FallbackStoreSuite) TestOpensAndCountsLocally() {
	ctx := context.Background()
	s.primary.fail = true
	_, _ = s.store.Allow(ctx, "k", 2, time.Minute)

	res, err := s.store.Allow(ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Degraded)
	s.True(res.Allowed)
	s.Equal([]bool{true}, s.transitions)

	// local window keeps enforcing the budget
	res, err = s.store.Allow(ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	res, err = s.store.Allow(ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.True(res.Degraded)

	s.Equal(2, s.primary.calls, "no trial call before the interval elapses")
}

func (s *FallbackStoreSuite) TestRecoversAfterTrialCall() {
	ctx := context.Background()
	s.primary.fail = true
	_, _ = s.store.Allow(ctx, "k", 5, time.Minute)
	_, _ = s.store.Allow(ctx, "k", 5, time.Minute)
	s.Require().True(s.store.Degraded())

	s.primary.fail = false
	s.clock.Advance(time.Second)
	res, err := s.store.Allow(ctx, "k", 5, time.Minute)
	s.Require().NoError(err)
	s.False(res.Degraded)
	s.False(s.store.Degraded())
	s.Equal([]bool{true, false}, s.transitions)
}

func (s *FallbackStoreSuite) TestResetClearsBothStores() {
	ctx := context.Background()
	_, _ = s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(s.store.Reset(ctx, "k"))
	res, err := s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}
