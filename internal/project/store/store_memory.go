package store

import (
	"context"
	"strings"
	"sync"

	"sitegate/internal/project/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the development and test project store. Execute serializes
// validate-then-mutate under the store lock, matching the FOR UPDATE semantics
// of the Postgres store.
type InMemory struct {
	mu       sync.RWMutex
	projects map[id.ProjectID]*models.Project
}

func NewInMemory() *InMemory {
	return &InMemory{projects: make(map[id.ProjectID]*models.Project)}
}

// CreateIfNameAvailable inserts the project unless the name is taken
// (case-insensitive).
func (s *InMemory) CreateIfNameAvailable(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.projects {
		if strings.EqualFold(existing.Name, project.Name) {
			return sentinel.ErrAlreadyExists
		}
	}
	clone := *project
	s.projects[project.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, projectID id.ProjectID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[projectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *project
	return &clone, nil
}

// ListActive returns all active projects, for the scheduled workers.
func (s *InMemory) ListActive(_ context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*models.Project
	for _, project := range s.projects {
		if project.IsActive() {
			clone := *project
			active = append(active, &clone)
		}
	}
	return active, nil
}

// Execute runs validate then mutate while holding the store lock, so no other
// writer can interleave between them.
func (s *InMemory) Execute(_ context.Context, projectID id.ProjectID, validate func(*models.Project) error, mutate func(*models.Project)) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[projectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(project); err != nil {
		return nil, err
	}
	mutate(project)
	clone := *project
	return &clone, nil
}
