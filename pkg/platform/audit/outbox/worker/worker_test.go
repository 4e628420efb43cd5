package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framewise/internal/platform/kafka/producer"
	"framewise/pkg/platform/audit/outbox"
	"framewise/pkg/platform/audit/outbox/metrics"
)

type fakeStore struct {
	mu       sync.Mutex
	entries  []*outbox.Entry
	fetchErr error
	markErr  error
	deleted  time.Time
}

func (s *fakeStore) Append(_ context.Context, e *outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *fakeStore) FetchUnprocessed(_ context.Context, limit int) ([]*outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*outbox.Entry
	for _, e := range s.entries {
		if e.IsPending() && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for _, e := range s.entries {
		if e.ID == id {
			e.ProcessedAt = &at
			return nil
		}
	}
	return errors.New("not found")
}

func (s *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID != id {
			continue
		}
		e.Attempts++
		e.LastError = reason
		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			e.ParkedAt = &at
		}
		return e.ParkedAt != nil, nil
	}
	return false, errors.New("not found")
}

func (s *fakeStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.IsPending() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = before
	return 2, nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []*producer.Message
	failKey  string
}

func (p *fakeProducer) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if string(msg.Key) == p.failKey {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func TestPollPublishesAndMarks(t *testing.T) {
	store := &fakeStore{}
	prod := &fakeProducer{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	a := outbox.NewEntry("audit_event", "evt_1", "billing_event_processed", []byte(`{}`))
	b := outbox.NewEntry("audit_event", "evt_2", "billing_event_failed", []byte(`{}`))
	require.NoError(t, store.Append(context.Background(), a))
	require.NoError(t, store.Append(context.Background(), b))

	w := New(store, prod, WithTopic("audit"), WithMetrics(m))
	assert.Equal(t, 2, w.Poll(context.Background()))

	require.Len(t, prod.messages, 2)
	msg := prod.messages[0]
	assert.Equal(t, "audit", msg.Topic)
	assert.Equal(t, a.ID.String(), string(msg.Key))
	assert.Equal(t, "evt_1", msg.Headers["aggregate_id"])
	assert.Equal(t, "billing_event_processed", msg.Headers["event_type"])

	assert.False(t, a.IsPending())
	assert.False(t, b.IsPending())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingDepth))
}

func TestFailedPublishStaysPending(t *testing.T) {
	store := &fakeStore{}
	good := outbox.NewEntry("audit_event", "evt_1", "x", []byte(`{}`))
	bad := outbox.NewEntry("audit_event", "evt_2", "x", []byte(`{}`))
	require.NoError(t, store.Append(context.Background(), bad))
	require.NoError(t, store.Append(context.Background(), good))

	prod := &fakeProducer{failKey: bad.ID.String()}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	w := New(store, prod, WithMetrics(m))

	assert.Equal(t, 1, w.Poll(context.Background()))
	assert.True(t, bad.IsPending())
	assert.False(t, good.IsPending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))

	assert.Equal(t, 1, bad.Attempts)
	assert.Equal(t, "broker unavailable", bad.LastError)

	prod.failKey = ""
	assert.Equal(t, 1, w.Poll(context.Background()))
	assert.False(t, bad.IsPending())
}

func TestEntryParkedAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	poison := outbox.NewEntry("audit_event", "evt_1", "x", []byte(`{}`))
	require.NoError(t, store.Append(context.Background(), poison))

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	w := New(store, &fakeProducer{failKey: poison.ID.String()}, WithMaxAttempts(3), WithMetrics(m))

	for i := 0; i < 3; i++ {
		assert.Zero(t, w.Poll(context.Background()))
	}
	assert.False(t, poison.IsPending())
	assert.NotNil(t, poison.ParkedAt)
	assert.Equal(t, 3, poison.Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParkedTotal))

	pending, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)

	assert.Zero(t, w.Poll(context.Background()))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PublishFailures), "parked entry is not retried")
}

func TestFetchErrorPublishesNothing(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("db down")}
	prod := &fakeProducer{}
	w := New(store, prod)

	assert.Equal(t, 0, w.Poll(context.Background()))
	assert.Empty(t, prod.messages)
}

func TestUnmarkedEntryIsNotCounted(t *testing.T) {
	store := &fakeStore{markErr: errors.New("db down")}
	require.NoError(t, store.Append(context.Background(), outbox.NewEntry("audit_event", "evt_1", "x", nil)))
	prod := &fakeProducer{}
	w := New(store, prod)

	assert.Equal(t, 0, w.Poll(context.Background()))
	assert.Len(t, prod.messages, 1)
}

func TestPurgeUsesRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	w := New(store, &fakeProducer{}, WithRetention(24*time.Hour), WithClock(func() time.Time { return now }), WithMetrics(m))

	w.Purge(context.Background())
	assert.Equal(t, now.Add(-24*time.Hour), store.deleted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PurgedTotal))

	store.deleted = time.Time{}
	New(store, &fakeProducer{}, WithRetention(0)).Purge(context.Background())
	assert.True(t, store.deleted.IsZero())
}

func TestRunDrainsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	prod := &fakeProducer{}
	w := New(store, prod, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, store.Append(context.Background(), outbox.NewEntry("audit_event", "evt_1", "x", nil)))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	pending, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}
