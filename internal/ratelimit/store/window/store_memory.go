package window

import (
	"context"
	"sync"
	"time"

	"framewise/internal/ratelimit/models"
)

// InMemoryStore counts fixed windows in process memory. Each instance keeps
// its own budget; run several replicas against RedisStore or PostgresStore
// when a shared budget is needed.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*models.Window
	now     func() time.Time
	maxKeys int
}

type Option func(*InMemoryStore)

// WithClock replaces the wall clock. Tests use it to cross window boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// WithMaxKeys bounds the number of tracked keys. Zero disables the bound.
func WithMaxKeys(n int) Option {
	return func(s *InMemoryStore) {
		s.maxKeys = n
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		windows: make(map[string]*models.Window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check applies one request to key's window. It never fails.
func (s *InMemoryStore) Check(key string, max int, window time.Duration) models.AdmissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok {
		s.makeRoomLocked(now)
		w = &models.Window{Key: key}
		s.windows[key] = w
	}
	return w.Admit(max, window, now)
}

// Allow satisfies Store.
func (s *InMemoryStore) Allow(_ context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	res := s.Check(key, max, window)
	return &res, nil
}

// Reset forgets key's window.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep deletes every window that has expired at now and returns how many
// were removed.
func (s *InMemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// DeleteExpired satisfies Sweepable.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return int64(s.Sweep(now)), nil
}

func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *InMemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range s.windows {
		if w.Expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// makeRoomLocked frees one slot when the key bound is reached: expired
// windows go first, then the window closest to its reset.
func (s *InMemoryStore) makeRoomLocked(now time.Time) {
	if s.maxKeys <= 0 || len(s.windows) < s.maxKeys {
		return
	}
	if s.sweepLocked(now) > 0 {
		return
	}
	var (
		victim   string
		earliest time.Time
	)
	for key, w := range s.windows {
		if victim == "" || w.ResetAt.Before(earliest) {
			victim, earliest = key, w.ResetAt
		}
	}
	delete(s.windows, victim)
}
