// Package subscription stores tenant billing state derived from provider
// events.
package subscription

import (
	"context"
	"slices"
	"sync"

	"framewise/internal/billing/models"
	"framewise/pkg/platform/sentinel"
)

// InMemoryStore keeps subscriptions in process memory, indexed by row id,
// provider subscription id and customer id.
type InMemoryStore struct {
	mu             sync.RWMutex
	rows           map[string]*models.Subscription
	bySubscription map[string]string
	byCustomer     map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rows:           make(map[string]*models.Subscription),
		bySubscription: make(map[string]string),
		byCustomer:     make(map[string]string),
	}
}

func (s *InMemoryStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(s.bySubscription, subscriptionID)
}

// FindByCustomerID returns the most recently saved row for customerID.
func (s *InMemoryStore) FindByCustomerID(_ context.Context, customerID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(s.byCustomer, customerID)
}

// Save inserts or replaces the row with sub.ID.
func (s *InMemoryStore) Save(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sub.ID.String()
	if prev, ok := s.rows[id]; ok && prev.SubscriptionID != "" && prev.SubscriptionID != sub.SubscriptionID {
		delete(s.bySubscription, prev.SubscriptionID)
	}
	if sub.SubscriptionID != "" {
		if owner, ok := s.bySubscription[sub.SubscriptionID]; ok && owner != id {
			return sentinel.ErrConflict
		}
		s.bySubscription[sub.SubscriptionID] = id
	}
	if sub.CustomerID != "" {
		s.byCustomer[sub.CustomerID] = id
	}
	s.rows[id] = copySubscription(sub)
	return nil
}

// ListByTenant returns every row attributed to tenantID, oldest first.
func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Subscription
	for _, row := range s.rows {
		if row.TenantID == tenantID {
			out = append(out, copySubscription(row))
		}
	}
	slices.SortFunc(out, func(a, b *models.Subscription) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) lookupLocked(index map[string]string, key string) (*models.Subscription, error) {
	if key == "" {
		return nil, sentinel.ErrNotFound
	}
	id, ok := index[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copySubscription(s.rows[id]), nil
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	out := *sub
	if sub.CurrentPeriodEnd != nil {
		end := *sub.CurrentPeriodEnd
		out.CurrentPeriodEnd = &end
	}
	return &out
}
