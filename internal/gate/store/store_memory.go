package store

import (
	"context"
	"sync"
	"time"

	"sitegate/internal/gate/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the development and test gate store. The single mutex gives the
// same serialization the Postgres store gets from row locks: the verified
// check and the log insert can never interleave with another writer.
type InMemory struct {
	mu       sync.RWMutex
	records  map[id.GateRecordID]*models.GateRecord
	byKey    map[models.Key]id.GateRecordID
	logs     map[models.Key]*models.GatedLog
	logsByID map[id.GatedLogID]*models.GatedLog
}

func NewInMemory() *InMemory {
	return &InMemory{
		records:  make(map[id.GateRecordID]*models.GateRecord),
		byKey:    make(map[models.Key]id.GateRecordID),
		logs:     make(map[models.Key]*models.GatedLog),
		logsByID: make(map[id.GatedLogID]*models.GatedLog),
	}
}

// CreateIfAbsent inserts the record unless its key is already taken.
func (s *InMemory) CreateIfAbsent(_ context.Context, record *models.GateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[record.Key]; exists {
		return sentinel.ErrAlreadyExists
	}
	clone := cloneRecord(record)
	s.records[record.ID] = clone
	s.byKey[record.Key] = record.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, recordID id.GateRecordID) (*models.GateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *InMemory) FindByKey(_ context.Context, key models.Key) (*models.GateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recordID, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(s.records[recordID]), nil
}

// Execute runs validate then mutate under the store lock.
func (s *InMemory) Execute(_ context.Context, recordID id.GateRecordID, validate func(*models.GateRecord) error, mutate func(*models.GateRecord)) (*models.GateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(record); err != nil {
		return nil, err
	}
	mutate(record)
	return cloneRecord(record), nil
}

// CreateLogForVerifiedGate atomically checks the gate predicate and inserts
// the log. With gateRequired=false the predicate is unconditionally true and
// build receives a nil gate. Returns:
//   - sentinel.ErrNotFound: no gate record for the key
//   - sentinel.ErrInvalidState: gate record exists but is not Verified
//   - sentinel.ErrAlreadyExists: a log already exists for the key
func (s *InMemory) CreateLogForVerifiedGate(_ context.Context, key models.Key, gateRequired bool, build func(gate *models.GateRecord) *models.GatedLog) (*models.GatedLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gate *models.GateRecord
	if gateRequired {
		recordID, ok := s.byKey[key]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		gate = s.records[recordID]
		if gate.Status != models.StatusVerified {
			return nil, sentinel.ErrInvalidState
		}
	}
	if _, exists := s.logs[key]; exists {
		return nil, sentinel.ErrAlreadyExists
	}

	log := build(gate)
	clone := *log
	s.logs[key] = &clone
	s.logsByID[log.ID] = &clone
	return log, nil
}

func (s *InMemory) FindLogByKey(_ context.Context, key models.Key) (*models.GatedLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *log
	return &clone, nil
}

// ExpireBefore marks every non-Verified record of the project dated before
// cutoff as Expired and returns the expired records.
func (s *InMemory) ExpireBefore(_ context.Context, projectID id.ProjectID, cutoff id.Day, now time.Time) ([]*models.GateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.GateRecord
	for _, record := range s.records {
		if record.Key.ProjectID != projectID {
			continue
		}
		if record.Status != models.StatusNotStarted && record.Status != models.StatusInProgress {
			continue
		}
		if record.Key.Date.Before(cutoff) {
			record.Expire(now)
			expired = append(expired, cloneRecord(record))
		}
	}
	return expired, nil
}

func cloneRecord(record *models.GateRecord) *models.GateRecord {
	clone := *record
	clone.Checklist.Items = make(map[string]string, len(record.Checklist.Items))
	for item, answer := range record.Checklist.Items {
		clone.Checklist.Items[item] = answer
	}
	clone.CrewAcknowledgments = append([]string{}, record.CrewAcknowledgments...)
	if record.VerifiedAt != nil {
		verifiedAt := *record.VerifiedAt
		clone.VerifiedAt = &verifiedAt
	}
	return &clone
}
