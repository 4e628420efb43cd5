// Package ledger records which provider events have been seen and which have
// finished processing.
package ledger

import (
	"context"
	"sync"
	"time"

	"framewise/internal/billing/models"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/requestcontext"
)

// InMemoryStore keeps the ledger in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.EventRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.EventRecord)}
}

// GetOrCreate returns the record for id, creating it as seen when absent. An
// existing record only gains a tenant it did not have.
func (s *InMemoryStore) GetOrCreate(ctx context.Context, id, eventType, tenantID string) (*models.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = &models.EventRecord{
			ExternalEventID: id,
			EventType:       eventType,
			TenantID:        tenantID,
			CreatedAt:       requestcontext.Now(ctx),
		}
		s.records[id] = rec
	} else if rec.TenantID == "" && tenantID != "" {
		rec.TenantID = tenantID
	}
	return copyRecord(rec), nil
}

// MarkProcessed moves a seen record to processed. It returns false when the
// record was already processed.
func (s *InMemoryStore) MarkProcessed(_ context.Context, id, tenantID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if rec.ProcessedAt != nil {
		return false, nil
	}
	processedAt := at
	rec.ProcessedAt = &processedAt
	if tenantID != "" {
		rec.TenantID = tenantID
	}
	return true, nil
}

func (s *InMemoryStore) Find(_ context.Context, id string) (*models.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func copyRecord(rec *models.EventRecord) *models.EventRecord {
	out := *rec
	if rec.ProcessedAt != nil {
		at := *rec.ProcessedAt
		out.ProcessedAt = &at
	}
	return &out
}
