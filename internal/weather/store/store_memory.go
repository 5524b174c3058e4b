package store

import (
	"context"
	"sort"
	"sync"

	"sitegate/internal/weather/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the development and test capture store.
type InMemory struct {
	mu       sync.RWMutex
	captures map[id.CaptureID]*models.Capture
}

func NewInMemory() *InMemory {
	return &InMemory{captures: make(map[id.CaptureID]*models.Capture)}
}

// CreateIfAbsent inserts the capture unless its ID is already present.
func (s *InMemory) CreateIfAbsent(_ context.Context, capture *models.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.captures[capture.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.captures[capture.ID] = clone(capture)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, captureID id.CaptureID) (*models.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	capture, ok := s.captures[captureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(capture), nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, captureID id.CaptureID, validate func(*models.Capture) error, mutate func(*models.Capture)) (*models.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capture, ok := s.captures[captureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(capture); err != nil {
		return nil, err
	}
	mutate(capture)
	return clone(capture), nil
}

// ListRecent returns the project's latest captures, newest first.
func (s *InMemory) ListRecent(_ context.Context, projectID id.ProjectID, limit int) ([]*models.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Capture
	for _, capture := range s.captures {
		if capture.ProjectID == projectID {
			out = append(out, clone(capture))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(c *models.Capture) *models.Capture {
	cl := *c
	cl.Reasons = append([]string{}, c.Reasons...)
	cl.Raw = append([]byte(nil), c.Raw...)
	if c.AcknowledgedAt != nil {
		ackedAt := *c.AcknowledgedAt
		cl.AcknowledgedAt = &ackedAt
	}
	return &cl
}
