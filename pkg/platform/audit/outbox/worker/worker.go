package worker

import (
	"context"
	"log/slog"
	"time"

	"framewise/internal/platform/kafka/producer"
	"framewise/pkg/platform/audit/outbox"
	"framewise/pkg/platform/audit/outbox/metrics"
)

// Producer is satisfied by *producer.Producer.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox table and publishes events to Kafka.
type Worker struct {
	store        outbox.Store
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	maxAttempts  int
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

// WithTopic sets the Kafka topic for publishing.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithBatchSize sets the maximum number of entries to fetch per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention sets how long published entries are kept. Zero keeps them.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

// WithMaxAttempts parks an entry after n failed publishes. Zero retries
// forever.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.maxAttempts = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, prod Producer, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		producer:     prod,
		topic:        "framewise.audit.events",
		batchSize:    100,
		pollInterval: 100 * time.Millisecond,
		retention:    7 * 24 * time.Hour,
		maxAttempts:  10,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left. It always
// returns nil so it can run under an errgroup without tearing it down.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		case <-purge.C:
			w.Purge(ctx)
		}
	}
}

// Poll fetches one batch and publishes it. It returns how many entries
// were published and marked.
func (w *Worker) Poll(ctx context.Context) int {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logError("outbox_fetch_failed", "error", err)
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0
	}
	if len(entries) == 0 {
		w.updatePending(ctx)
		return 0
	}

	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	published := w.publishBatch(ctx, entries)

	if w.metrics != nil {
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
	}
	w.updatePending(ctx)
	return published
}

func (w *Worker) publishBatch(ctx context.Context, entries []*outbox.Entry) int {
	published := 0
	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			w.recordFailure(ctx, entry, err)
			continue
		}

		if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
			// The record is already on the topic. It will be sent again on
			// the next poll; consumers dedupe on the record key.
			w.logError("outbox_mark_failed", "id", entry.ID, "error", err)
			continue
		}

		published++
		if w.metrics != nil {
			w.metrics.IncPublished()
		}
	}
	return published
}

func (w *Worker) recordFailure(ctx context.Context, entry *outbox.Entry, cause error) {
	if w.metrics != nil {
		w.metrics.IncPublishFailures()
	}
	parked, err := w.store.MarkFailed(ctx, entry.ID, cause.Error(), w.maxAttempts, w.now())
	if err != nil {
		w.logError("outbox_publish_failed", "id", entry.ID, "error", cause, "mark_error", err)
		return
	}
	if !parked {
		w.logError("outbox_publish_failed",
			"id", entry.ID,
			"event_type", entry.EventType,
			"attempt", entry.Attempts+1,
			"error", cause,
		)
		return
	}
	w.logError("outbox_entry_parked",
		"id", entry.ID,
		"event_type", entry.EventType,
		"attempts", entry.Attempts+1,
		"error", cause,
	)
	if w.metrics != nil {
		w.metrics.IncParked()
	}
}

func (w *Worker) publishEntry(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	err := w.producer.Produce(ctx, &producer.Message{
		Topic:   w.topic,
		Key:     []byte(entry.ID.String()),
		Value:   entry.Payload,
		Headers: entry.Headers(),
	})
	if err == nil && w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return err
}

// drain publishes what is left during shutdown, bounded by a short timeout.
func (w *Worker) drain() {
	if w.logger != nil {
		w.logger.Info("outbox_worker_draining")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil {
			w.logError("outbox_drain_fetch_failed", "error", err)
			return
		}
		if len(entries) == 0 {
			return
		}
		if w.publishBatch(ctx, entries) == 0 {
			// nothing moved; stop rather than spin on a broken broker
			return
		}
	}
}

// Purge deletes published entries older than the retention period.
func (w *Worker) Purge(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	n, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logError("outbox_purge_failed", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.AddPurged(n)
	}
}

func (w *Worker) updatePending(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return
	}
	w.metrics.SetPendingDepth(count)
}

func (w *Worker) logError(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Error(msg, args...)
	}
}
