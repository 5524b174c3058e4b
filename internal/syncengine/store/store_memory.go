// Package store persists the offline sync queue.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"sitegate/internal/syncengine/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the in-memory queue used by tests and single-node deployments.
type InMemory struct {
	mu    sync.Mutex
	items map[id.SyncItemID]*models.Item
	seq   map[id.SyncItemID]uint64 // enqueue order tiebreak within a priority
	next  uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[id.SyncItemID]*models.Item),
		seq:   make(map[id.SyncItemID]uint64),
	}
}

func cloneItem(item *models.Item) *models.Item {
	c := *item
	c.Payload = slices.Clone(item.Payload)
	return &c
}

// CreateIfAbsent enqueues an item. If the device already submitted this item
// ID the stored row is returned with sentinel.ErrAlreadyExists.
func (s *InMemory) CreateIfAbsent(ctx context.Context, item *models.Item) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[item.ID]; ok {
		return cloneItem(existing), sentinel.ErrAlreadyExists
	}
	s.items[item.ID] = cloneItem(item)
	s.seq[item.ID] = s.next
	s.next++
	return cloneItem(item), nil
}

func (s *InMemory) FindByID(ctx context.Context, itemID id.SyncItemID) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneItem(item), nil
}

// ClaimNext atomically moves up to limit due pending items to in_flight and
// returns them, highest priority first and enqueue order within a priority.
func (s *InMemory) ClaimNext(ctx context.Context, now time.Time, limit int) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Item
	for _, item := range s.items {
		if item.Status == models.StatusPending && !item.NextAttemptAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return s.seq[due[i].ID] < s.seq[due[j].ID]
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.Item, 0, len(due))
	for _, item := range due {
		item.Status = models.StatusInFlight
		item.UpdatedAt = now
		claimed = append(claimed, cloneItem(item))
	}
	return claimed, nil
}

// Execute runs validate then mutate on one item under the store lock.
func (s *InMemory) Execute(ctx context.Context, itemID id.SyncItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(item); err != nil {
		return nil, err
	}
	mutate(item)
	return cloneItem(item), nil
}

// ListByDevice returns a device's items, optionally filtered to the given
// statuses, in enqueue order.
func (s *InMemory) ListByDevice(ctx context.Context, deviceID id.DeviceID, statuses []models.Status) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Item
	for _, item := range s.items {
		if item.DeviceID != deviceID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, item.Status) {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}
