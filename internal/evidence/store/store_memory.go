package store

import (
	"context"
	"sort"
	"sync"

	"sitegate/internal/evidence/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the development and test evidence store.
type InMemory struct {
	mu       sync.RWMutex
	evidence map[id.EvidenceID]*models.Evidence
}

func NewInMemory() *InMemory {
	return &InMemory{evidence: make(map[id.EvidenceID]*models.Evidence)}
}

// CreateIfAbsent inserts the record unless its ID is already present. Sync
// replays of the same capture are therefore harmless.
func (s *InMemory) CreateIfAbsent(_ context.Context, evidence *models.Evidence) (*models.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.evidence[evidence.ID]; ok {
		return clone(existing), sentinel.ErrAlreadyExists
	}
	s.evidence[evidence.ID] = clone(evidence)
	return evidence, nil
}

func (s *InMemory) FindByID(_ context.Context, evidenceID id.EvidenceID) (*models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evidence, ok := s.evidence[evidenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(evidence), nil
}

// AppendAnnotation adds a note to an existing record. Only the annotation list
// ever changes; everything else is immutable.
func (s *InMemory) AppendAnnotation(_ context.Context, evidenceID id.EvidenceID, annotation models.Annotation) (*models.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidence[evidenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	evidence.Annotations = append(evidence.Annotations, annotation)
	return clone(evidence), nil
}

// ListByWorkUnit returns evidence for a project's work unit, oldest first.
func (s *InMemory) ListByWorkUnit(_ context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID) ([]*models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Evidence
	for _, evidence := range s.evidence {
		if evidence.ProjectID == projectID && evidence.WorkUnitID == workUnitID {
			out = append(out, clone(evidence))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

func clone(e *models.Evidence) *models.Evidence {
	c := *e
	c.Provenance = append([]byte(nil), e.Provenance...)
	c.Annotations = append([]models.Annotation{}, e.Annotations...)
	return &c
}
