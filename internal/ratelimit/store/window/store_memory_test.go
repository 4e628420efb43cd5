package window

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type InMemoryStoreSuite struct {
	suite.Suite
	clock *fakeClock
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.clock = newFakeClock()
	s.store = NewInMemoryStore(WithClock(s.clock.Now))
}

func (s *InMemoryStoreSuite) TestAdmitsUpToMaxThenRejects() {
	for i := 1; i <= 3; i++ {
		res := s.store.Check("k", 3, time.Minute)
		s.True(res.Allowed, "call %d", i)
		s.Equal(3-i, res.Remaining)
		s.Equal(3, res.Limit)
	}
	res := s.store.Check("k", 3, time.Minute)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
}

func (s *InMemoryStoreSuite) TestWindowResets() {
	s.store.Check("k", 1, time.Minute)
	s.Require().False(s.store.Check("k", 1, time.Minute).Allowed)

	s.clock.Advance(time.Minute)
	res := s.store.Check("k", 1, time.Minute)

	s.True(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(s.clock.Now().Add(time.Minute), res.ResetAt)
}

func (s *InMemoryStoreSuite) TestRejectionDoesNotMoveReset() {
	first := s.store.Check("k", 1, time.Minute)

	var previous int
	for i := 0; i < 5; i++ {
		s.clock.Advance(5 * time.Second)
		res := s.store.Check("k", 1, time.Minute)
		s.False(res.Allowed)
		s.Equal(0, res.Remaining)
		s.Equal(first.ResetAt, res.ResetAt)
		if i > 0 {
			s.Equal(previous-5, res.RetryAfterSec)
		}
		previous = res.RetryAfterSec
	}
}

func (s *InMemoryStoreSuite) TestKeysAreIndependent() {
	s.store.Check("a", 1, time.Minute)
	s.False(s.store.Check("a", 1, time.Minute).Allowed)
	s.True(s.store.Check("b", 1, time.Minute).Allowed)
}

func (s *InMemoryStoreSuite) TestEmbedCreateScenario() {
	key := "write:embed-create:1.2.3.4"
	for i := 1; i <= 20; i++ {
		res := s.store.Check(key, 20, 10*time.Minute)
		s.Require().True(res.Allowed)
		s.Equal(20-i, res.Remaining)
	}
	s.clock.Advance(90 * time.Second)

	res := s.store.Check(key, 20, 10*time.Minute)

	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(510, res.RetryAfterSec)
}

func (s *InMemoryStoreSuite) TestResultIsACopy() {
	res, err := s.store.Allow(context.Background(), "k", 5, time.Minute)
	s.Require().NoError(err)
	res.Remaining = 100
	res.ResetAt = time.Time{}

	next := s.store.Check("k", 5, time.Minute)
	s.Equal(3, next.Remaining)
	s.False(next.ResetAt.IsZero())
}

func (s *InMemoryStoreSuite) TestReset() {
	s.store.Check("k", 1, time.Minute)
	s.Require().NoError(s.store.Reset(context.Background(), "k"))
	s.True(s.store.Check("k", 1, time.Minute).Allowed)
}

func (s *InMemoryStoreSuite) TestSweepRemovesExpiredOnly() {
	s.store.Check("short", 5, time.Second)
	s.store.Check("long", 5, time.Hour)
	s.clock.Advance(time.Minute)

	removed := s.store.Sweep(s.clock.Now())

	s.Equal(1, removed)
	s.Equal(1, s.store.Len())

	n, err := s.store.DeleteExpired(context.Background(), s.clock.Now().Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	s.Equal(0, s.store.Len())
}

func TestInMemoryStore_MaxKeys(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemoryStore(WithClock(clock.Now), WithMaxKeys(2))

	t.Run("evicts earliest reset when full", func(t *testing.T) {
		store.Check("soon", 1, time.Minute)
		store.Check("later", 1, time.Hour)
		store.Check("new", 1, time.Hour)

		assert.Equal(t, 2, store.Len())
		assert.True(t, store.Check("soon", 1, time.Minute).Allowed, "evicted key starts fresh")
	})

	t.Run("prefers expired windows", func(t *testing.T) {
		store := NewInMemoryStore(WithClock(clock.Now), WithMaxKeys(2))
		store.Check("expiring", 1, time.Second)
		store.Check("keep", 1, time.Hour)
		clock.Advance(2 * time.Second)

		store.Check("third", 1, time.Hour)

		assert.Equal(t, 2, store.Len())
		assert.False(t, store.Check("keep", 1, time.Hour).Allowed, "live window survived")
	})
}

func TestInMemoryStore_ConcurrentChecks(t *testing.T) {
	store := NewInMemoryStore()
	const (
		goroutines = 50
		perWorker  = 20
		max        = 100
	)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if store.Check("shared", max, time.Hour).Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(max), admitted.Load())
}

func BenchmarkInMemoryStore_Check(b *testing.B) {
	store := NewInMemoryStore(WithMaxKeys(10_000))
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("write:invite:10.0.%d.%d", i/256, i%256)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Check(keys[i%len(keys)], 50, time.Minute)
	}
}
