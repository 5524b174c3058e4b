package store

import (
	"context"
	"sort"
	"sync"

	"sitegate/internal/alert/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the development and test alert store.
type InMemory struct {
	mu       sync.RWMutex
	alerts   map[id.AlertID]*models.Alert
	byDedupe map[string]id.AlertID
}

func NewInMemory() *InMemory {
	return &InMemory{
		alerts:   make(map[id.AlertID]*models.Alert),
		byDedupe: make(map[string]id.AlertID),
	}
}

// CreateIfAbsent inserts the alert unless its dedupe key is already present,
// in which case the existing alert is returned alongside ErrAlreadyExists.
func (s *InMemory) CreateIfAbsent(_ context.Context, alert *models.Alert) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byDedupe[alert.DedupeKey]; ok {
		clone := *s.alerts[existingID]
		return &clone, sentinel.ErrAlreadyExists
	}
	clone := *alert
	s.alerts[alert.ID] = &clone
	s.byDedupe[alert.DedupeKey] = alert.ID
	return alert, nil
}

func (s *InMemory) FindByID(_ context.Context, alertID id.AlertID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *alert
	return &clone, nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(alert); err != nil {
		return nil, err
	}
	mutate(alert)
	clone := *alert
	return &clone, nil
}

// ListUnacknowledged returns open alerts, newest first. A nil project ID
// means all projects.
func (s *InMemory) ListUnacknowledged(_ context.Context, projectID id.ProjectID) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []*models.Alert
	for _, alert := range s.alerts {
		if alert.Acknowledged {
			continue
		}
		if !projectID.IsNil() && alert.ProjectID != projectID {
			continue
		}
		clone := *alert
		open = append(open, &clone)
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	return open, nil
}
