package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitegate/internal/syncengine/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

type InMemoryQueueSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *InMemory
	deviceID  id.DeviceID
	projectID id.ProjectID
}

func TestInMemoryQueueSuite(t *testing.T) {
	suite.Run(t, new(InMemoryQueueSuite))
}

func (s *InMemoryQueueSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 12, 7, 0, 0, 0, time.UTC)
	s.store = NewInMemory()
	s.deviceID = id.NewDeviceID()
	s.projectID = id.NewProjectID()
}

func (s *InMemoryQueueSuite) enqueue(recordType string, priority models.Priority) *models.Item {
	item, err := models.NewItem(id.NewSyncItemID(), s.deviceID, s.projectID,
		recordType, "", json.RawMessage(`{}`), priority, s.now, s.now)
	s.Require().NoError(err)
	stored, err := s.store.CreateIfAbsent(s.ctx, item)
	s.Require().NoError(err)
	return stored
}

func (s *InMemoryQueueSuite) TestCreateIfAbsent() {
	item, err := models.NewItem(id.NewSyncItemID(), s.deviceID, s.projectID,
		models.RecordTypeEvidence, "", json.RawMessage(`{}`), models.PriorityLow, s.now, s.now)
	s.Require().NoError(err)

	_, err = s.store.CreateIfAbsent(s.ctx, item)
	s.Require().NoError(err)

	existing, err := s.store.CreateIfAbsent(s.ctx, item)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)
	s.Equal(item.ID, existing.ID)
}

func (s *InMemoryQueueSuite) TestClaimOrdering() {
	low := s.enqueue(models.RecordTypeEvidence, models.PriorityLow)
	normalA := s.enqueue(models.RecordTypeGatedLog, models.PriorityNormal)
	high := s.enqueue(models.RecordTypeGateRecord, models.PriorityHigh)
	normalB := s.enqueue(models.RecordTypeComplianceEvent, models.PriorityNormal)

	claimed, err := s.store.ClaimNext(s.ctx, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(claimed, 4)

	// Priority first, enqueue order within a priority.
	s.Equal(high.ID, claimed[0].ID)
	s.Equal(normalA.ID, claimed[1].ID)
	s.Equal(normalB.ID, claimed[2].ID)
	s.Equal(low.ID, claimed[3].ID)
	for _, item := range claimed {
		s.Equal(models.StatusInFlight, item.Status)
	}

	// Everything is in flight; a second claim finds nothing.
	claimed, err = s.store.ClaimNext(s.ctx, s.now, 10)
	s.Require().NoError(err)
	s.Empty(claimed)
}

func (s *InMemoryQueueSuite) TestClaimRespectsNextAttemptAt() {
	item := s.enqueue(models.RecordTypeGatedLog, models.PriorityNormal)
	_, err := s.store.Execute(s.ctx, item.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) {
			i.Status = models.StatusPending
			i.NextAttemptAt = s.now.Add(4 * time.Second)
		})
	s.Require().NoError(err)

	claimed, err := s.store.ClaimNext(s.ctx, s.now.Add(time.Second), 10)
	s.Require().NoError(err)
	s.Empty(claimed)

	claimed, err = s.store.ClaimNext(s.ctx, s.now.Add(5*time.Second), 10)
	s.Require().NoError(err)
	s.Len(claimed, 1)
}

func (s *InMemoryQueueSuite) TestClaimHonorsLimit() {
	for i := 0; i < 5; i++ {
		s.enqueue(models.RecordTypeEvidence, models.PriorityLow)
	}
	claimed, err := s.store.ClaimNext(s.ctx, s.now, 2)
	s.Require().NoError(err)
	s.Len(claimed, 2)
}

func (s *InMemoryQueueSuite) TestListByDevice() {
	mine := s.enqueue(models.RecordTypeGatedLog, models.PriorityNormal)
	_, err := s.store.Execute(s.ctx, mine.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) { i.Status = models.StatusFailed })
	s.Require().NoError(err)
	s.enqueue(models.RecordTypeEvidence, models.PriorityLow)

	other, err := models.NewItem(id.NewSyncItemID(), id.NewDeviceID(), s.projectID,
		models.RecordTypeEvidence, "", json.RawMessage(`{}`), models.PriorityLow, s.now, s.now)
	s.Require().NoError(err)
	_, err = s.store.CreateIfAbsent(s.ctx, other)
	s.Require().NoError(err)

	all, err := s.store.ListByDevice(s.ctx, s.deviceID, nil)
	s.Require().NoError(err)
	s.Len(all, 2)

	failed, err := s.store.ListByDevice(s.ctx, s.deviceID, []models.Status{models.StatusFailed})
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Equal(mine.ID, failed[0].ID)
}
