package store

import (
	"context"
	"sort"
	"sync"

	"sitegate/internal/compliance/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

type dayKey struct {
	projectID id.ProjectID
	day       id.Day
}

// InMemory is the development and test compliance store.
type InMemory struct {
	mu     sync.RWMutex
	events map[id.ComplianceEventID]*models.Event
	byDay  map[dayKey][]id.ComplianceEventID
}

func NewInMemory() *InMemory {
	return &InMemory{
		events: make(map[id.ComplianceEventID]*models.Event),
		byDay:  make(map[dayKey][]id.ComplianceEventID),
	}
}

// CreateIfAbsent inserts the event unless its ID is already present.
func (s *InMemory) CreateIfAbsent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	clone := *event
	s.events[event.ID] = &clone
	key := dayKey{projectID: event.ProjectID, day: event.Day}
	s.byDay[key] = append(s.byDay[key], event.ID)
	return nil
}

// ListByDay returns a project day's events across all work units, oldest
// first.
func (s *InMemory) ListByDay(_ context.Context, projectID id.ProjectID, day id.Day) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(projectID, day, ""), nil
}

// ListByWorkUnitDay returns one work unit's events for a day, oldest first.
func (s *InMemory) ListByWorkUnitDay(_ context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(projectID, day, workUnitID), nil
}

func (s *InMemory) listLocked(projectID id.ProjectID, day id.Day, workUnitID id.WorkUnitID) []*models.Event {
	ids := s.byDay[dayKey{projectID: projectID, day: day}]
	events := make([]*models.Event, 0, len(ids))
	for _, eventID := range ids {
		event := s.events[eventID]
		if workUnitID != "" && event.WorkUnitID != workUnitID {
			continue
		}
		clone := *event
		events = append(events, &clone)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}
