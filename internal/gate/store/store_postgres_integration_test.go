//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitegate/internal/gate/models"
	projectmodels "sitegate/internal/project/models"
	projectstore "sitegate/internal/project/store"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/testutil/containers"

	gatestore "sitegate/internal/gate/store"
)

type PostgresGateStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *gatestore.Postgres
	projects *projectstore.Postgres
	ctx      context.Context
	now      time.Time
	seq      int
}

func TestPostgresGateStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresGateStoreSuite))
}

func (s *PostgresGateStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), "../../../migrations")
	s.store = gatestore.NewPostgres(s.postgres.DB)
	s.projects = projectstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresGateStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 12, 7, 0, 0, 0, time.UTC)
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))
}

func (s *PostgresGateStoreSuite) seedProject() id.ProjectID {
	s.seq++
	project, err := projectmodels.NewProject(
		id.NewProjectID(),
		fmt.Sprintf("Harbor Tower %d", s.seq),
		geo.Point{Latitude: 37.79, Longitude: -122.39},
		150,
		"UTC",
		s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.projects.CreateIfNameAvailable(s.ctx, project))
	return project.ID
}

func (s *PostgresGateStoreSuite) newKey(projectID id.ProjectID, workUnit string) models.Key {
	return models.Key{
		ProjectID:  projectID,
		WorkUnitID: id.WorkUnitID(workUnit),
		Date:       id.DayOf(s.now),
	}
}

func (s *PostgresGateStoreSuite) seed(key models.Key, status models.Status) *models.GateRecord {
	record := models.NewGateRecord(id.NewGateRecordID(), key, models.DefaultSchemaID, s.now)
	record.Status = status
	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, record))
	return record
}

func (s *PostgresGateStoreSuite) buildLog(key models.Key) func(*models.GateRecord) *models.GatedLog {
	return func(gate *models.GateRecord) *models.GatedLog {
		log := &models.GatedLog{ID: id.NewGatedLogID(), Key: key, Summary: "poured footings", CrewCount: 4, CreatedAt: s.now}
		if gate != nil {
			log.GateRecordID = gate.ID
		}
		return log
	}
}

func (s *PostgresGateStoreSuite) TestCreateIfAbsentUniqueKey() {
	projectID := s.seedProject()
	key := s.newKey(projectID, "crane-01")
	s.seed(key, models.StatusInProgress)

	dup := models.NewGateRecord(id.NewGateRecordID(), key, models.DefaultSchemaID, s.now)
	err := s.store.CreateIfAbsent(s.ctx, dup)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)

	found, err := s.store.FindByKey(s.ctx, key)
	s.Require().NoError(err)
	s.NotEqual(dup.ID, found.ID)
}

func (s *PostgresGateStoreSuite) TestCreateLogForVerifiedGate() {
	projectID := s.seedProject()

	s.Run("missing gate", func() {
		key := s.newKey(projectID, "crane-02")
		_, err := s.store.CreateLogForVerifiedGate(s.ctx, key, true, s.buildLog(key))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unverified gate", func() {
		key := s.newKey(projectID, "crane-03")
		s.seed(key, models.StatusInProgress)
		_, err := s.store.CreateLogForVerifiedGate(s.ctx, key, true, s.buildLog(key))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("verified gate admits exactly one log", func() {
		key := s.newKey(projectID, "crane-04")
		gate := s.seed(key, models.StatusVerified)

		log, err := s.store.CreateLogForVerifiedGate(s.ctx, key, true, s.buildLog(key))
		s.Require().NoError(err)
		s.Equal(gate.ID, log.GateRecordID)

		_, err = s.store.CreateLogForVerifiedGate(s.ctx, key, true, s.buildLog(key))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)

		found, err := s.store.FindLogByKey(s.ctx, key)
		s.Require().NoError(err)
		s.Equal(log.ID, found.ID)
		s.Equal("poured footings", found.Summary)
	})

	s.Run("gate not required", func() {
		key := s.newKey(projectID, "crane-05")
		log, err := s.store.CreateLogForVerifiedGate(s.ctx, key, false, s.buildLog(key))
		s.Require().NoError(err)
		s.True(log.GateRecordID.IsNil())
	})
}

// Many writers race to file the daily log for the same work unit; the unique
// index admits exactly one.
func (s *PostgresGateStoreSuite) TestConcurrentLogWriters() {
	projectID := s.seedProject()
	key := s.newKey(projectID, "scaffold-07")
	s.seed(key, models.StatusVerified)

	const writers = 16
	var wg sync.WaitGroup
	var created atomic.Int32
	var duplicates atomic.Int32

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.store.CreateLogForVerifiedGate(s.ctx, key, true, s.buildLog(key))
			switch {
			case err == nil:
				created.Add(1)
			default:
				s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(writers-1), duplicates.Load())
}

func (s *PostgresGateStoreSuite) TestExecutePersistsMutation() {
	projectID := s.seedProject()
	key := s.newKey(projectID, "lift-01")
	record := s.seed(key, models.StatusInProgress)

	later := s.now.Add(30 * time.Minute)
	updated, err := s.store.Execute(s.ctx, record.ID,
		func(r *models.GateRecord) error {
			if r.Status == models.StatusExpired {
				return sentinel.ErrInvalidState
			}
			return nil
		},
		func(r *models.GateRecord) {
			r.MergeChecklist(models.Checklist{Items: map[string]string{"harness_check": "pass"}}, later)
			r.ApplyVerification("J. Alvarez", "sig-b64", []string{"crew-1", "crew-2"}, true, later)
		},
	)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, updated.Status)

	found, err := s.store.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, found.Status)
	s.Equal("J. Alvarez", found.VerifierName)
	s.Equal("pass", found.Checklist.Items["harness_check"])
	s.Equal([]string{"crew-1", "crew-2"}, found.CrewAcknowledgments)
	s.Require().NotNil(found.VerifiedAt)
}

func (s *PostgresGateStoreSuite) TestExpireBefore() {
	projectID := s.seedProject()
	yesterday := s.now.AddDate(0, 0, -1)

	staleKey := models.Key{ProjectID: projectID, WorkUnitID: "crane-01", Date: id.DayOf(yesterday)}
	stale := s.seed(staleKey, models.StatusInProgress)

	verifiedKey := models.Key{ProjectID: projectID, WorkUnitID: "crane-02", Date: id.DayOf(yesterday)}
	verified := s.seed(verifiedKey, models.StatusVerified)

	todayKey := s.newKey(projectID, "crane-03")
	today := s.seed(todayKey, models.StatusNotStarted)

	expired, err := s.store.ExpireBefore(s.ctx, projectID, id.DayOf(s.now), s.now)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(stale.ID, expired[0].ID)
	s.Equal(models.StatusExpired, expired[0].Status)

	found, err := s.store.FindByID(s.ctx, verified.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, found.Status)

	found, err = s.store.FindByID(s.ctx, today.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusNotStarted, found.Status)

	// Second sweep finds nothing left to expire.
	expired, err = s.store.ExpireBefore(s.ctx, projectID, id.DayOf(s.now), s.now)
	s.Require().NoError(err)
	s.Empty(expired)
}
