package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	id "wms/pkg/domain"
	audit "wms/pkg/platform/audit"
)

// InMemoryStore is an audit.Store for tests and single-process development.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, entry *audit.Entry) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.ID = uuid.New()
	if stored.Content == nil {
		content, err := audit.BuildContent(stored.Action, stored.Before, stored.After)
		if err != nil {
			return uuid.Nil, err
		}
		stored.Content = content
	}
	s.entries = append(s.entries, stored)
	entry.ID = stored.ID
	entry.Content = stored.Content
	return stored.ID, nil
}

func (s *InMemoryStore) FindByEntity(_ context.Context, entityName, entityID string) ([]audit.Entry, error) {
	return s.filter(func(e audit.Entry) bool {
		return e.EntityName == entityName && e.EntityID == entityID
	}, 0), nil
}

func (s *InMemoryStore) FindByEntities(_ context.Context, entityName string, entityIDs []string) ([]audit.Entry, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	return s.filter(func(e audit.Entry) bool {
		return e.EntityName == entityName && slices.Contains(entityIDs, e.EntityID)
	}, 0), nil
}

// FindByTenant never matches entries saved without a tenant.
func (s *InMemoryStore) FindByTenant(_ context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	if tenantID.IsZero() {
		return nil, nil
	}
	return s.filter(func(e audit.Entry) bool {
		return e.TenantID == tenantID
	}, limit), nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// All returns every stored entry in insertion order.
func (s *InMemoryStore) All() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry{}, s.entries...)
}

// filter returns matching entries newest first; later inserts win ties.
func (s *InMemoryStore) filter(match func(audit.Entry) bool, limit int) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if match(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	slices.SortStableFunc(out, func(a, b audit.Entry) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
