package memory

import (
	"context"
	"sort"
	"sync"

	audit "sitegate/pkg/platform/audit"
)

// InMemoryStore keeps audit entries in process memory. Append-only; used in
// tests and single-node development mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) ListByRecord(_ context.Context, table, recordID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Entry
	for _, entry := range s.entries {
		if entry.Table == table && entry.RecordID == recordID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := append([]audit.Entry{}, s.entries...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Len reports the number of entries. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
