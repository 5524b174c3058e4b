package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitegate/internal/gate/models"
	gatestore "sitegate/internal/gate/store"
	projectmodels "sitegate/internal/project/models"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

// Site at the Flatiron Building; geofence 500 m.
var (
	siteLocation = geo.Point{Latitude: 40.7411, Longitude: -73.9897}
	// ~50 m north of the site, well inside the fence.
	onSite = geo.Point{Latitude: 40.74155, Longitude: -73.9897}
	// ~2 km away.
	offSite = geo.Point{Latitude: 40.7589, Longitude: -73.9851}
)

type GateServiceSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	auditLog  *auditmemory.InMemoryStore
	projects  *projectservice.ProjectService
	service   *GateService
	projectID id.ProjectID
}

func TestGateServiceSuite(t *testing.T) {
	suite.Run(t, new(GateServiceSuite))
}

func (s *GateServiceSuite) SetupTest() {
	s.now = time.Date(2025, 6, 12, 7, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithActor(s.ctx, "foreman@site")

	logger := slog.New(slog.DiscardHandler)
	s.auditLog = auditmemory.NewInMemoryStore()
	recorder := audit.NewRecorder(s.auditLog)

	s.projects = projectservice.NewProjectService(projectstore.NewInMemory(), recorder, logger)
	project, err := s.projects.CreateProject(s.ctx, "Flatiron Tower", siteLocation, 500, "UTC")
	s.Require().NoError(err)
	s.projectID = project.ID

	s.service = NewGateService(gatestore.NewInMemory(), s.projects, recorder, logger)
}

func (s *GateServiceSuite) todayKey(workUnit string) models.Key {
	return models.Key{
		ProjectID:  s.projectID,
		WorkUnitID: id.WorkUnitID(workUnit),
		Date:       id.DayOf(s.now),
	}
}

func (s *GateServiceSuite) completeChecklist() models.Checklist {
	items := map[string]string{}
	required, ok := models.RequiredItems(models.DefaultSchemaID)
	s.Require().True(ok)
	for _, item := range required {
		items[item] = "yes"
	}
	return models.Checklist{SchemaID: models.DefaultSchemaID, Items: items}
}

func (s *GateServiceSuite) verifiedGate(workUnit string) *models.GateRecord {
	record, err := s.service.Begin(s.ctx, s.todayKey(workUnit), "")
	s.Require().NoError(err)
	_, err = s.service.SubmitChecklist(s.ctx, record.ID, s.completeChecklist())
	s.Require().NoError(err)
	verified, err := s.service.Verify(s.ctx, record.ID, models.VerifyInput{
		VerifierName:        "Dana Reyes",
		Signature:           "sig:dana",
		CrewAcknowledgments: []string{"crew-1", "crew-2"},
		DeviceLocation:      onSite,
	})
	s.Require().NoError(err)
	return verified
}

func (s *GateServiceSuite) TestBegin() {
	s.Run("creates an in-progress record with the default schema", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("crane-01"), "")
		s.Require().NoError(err)
		s.Equal(models.StatusInProgress, record.Status)
		s.Equal(models.DefaultSchemaID, record.Checklist.SchemaID)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableGateRecords, record.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionGateBegun, entries[0].Action)
	})

	s.Run("second begin for the same key conflicts", func() {
		_, err := s.service.Begin(s.ctx, s.todayKey("crane-02"), "")
		s.Require().NoError(err)
		_, err = s.service.Begin(s.ctx, s.todayKey("crane-02"), "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown schema rejected", func() {
		_, err := s.service.Begin(s.ctx, s.todayKey("crane-03"), "daily-safety/v99")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("past date rejected", func() {
		key := s.todayKey("crane-04")
		key.Date = id.DayOf(s.now.AddDate(0, 0, -1))
		_, err := s.service.Begin(s.ctx, key, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("inactive project rejected", func() {
		_, err := s.projects.DeactivateProject(s.ctx, s.projectID)
		s.Require().NoError(err)
		defer func() {
			_, err := s.projects.ReactivateProject(s.ctx, s.projectID)
			s.Require().NoError(err)
		}()

		_, err = s.service.Begin(s.ctx, s.todayKey("crane-05"), "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *GateServiceSuite) TestSubmitChecklist() {
	s.Run("submissions accumulate per item", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("scaffold-01"), "")
		s.Require().NoError(err)

		_, err = s.service.SubmitChecklist(s.ctx, record.ID, models.Checklist{
			Items: map[string]string{"ppe_inspected": "yes", "hazards_reviewed": "yes"},
		})
		s.Require().NoError(err)

		updated, err := s.service.SubmitChecklist(s.ctx, record.ID, models.Checklist{
			Items: map[string]string{"equipment_checked": "yes"},
		})
		s.Require().NoError(err)
		s.Equal("yes", updated.Checklist.Items["ppe_inspected"])
		s.Equal("yes", updated.Checklist.Items["equipment_checked"])
	})

	s.Run("verified gate no longer accepts answers", func() {
		record := s.verifiedGate("scaffold-02")
		_, err := s.service.SubmitChecklist(s.ctx, record.ID, s.completeChecklist())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *GateServiceSuite) TestVerify() {
	s.Run("all unmet preconditions reported together", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("rebar-01"), "")
		s.Require().NoError(err)
		_, err = s.service.SubmitChecklist(s.ctx, record.ID, models.Checklist{
			Items: map[string]string{"ppe_inspected": "yes"},
		})
		s.Require().NoError(err)

		_, err = s.service.Verify(s.ctx, record.ID, models.VerifyInput{
			VerifierName:   "Dana Reyes",
			DeviceLocation: offSite,
		})
		s.Require().Error(err)
		verr := &models.VerificationError{}
		s.Require().ErrorAs(err, &verr)
		s.True(verr.Has(models.PreconditionIncompleteChecklist))
		s.True(verr.Has(models.PreconditionMissingSignature))
		s.True(verr.Has(models.PreconditionOutOfGeofence))
		s.Contains(verr.MissingItems, "hazards_reviewed")
		s.NotContains(verr.MissingItems, "ppe_inspected")
	})

	s.Run("one missing checklist item blocks, then fixing it verifies", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("rebar-02"), "")
		s.Require().NoError(err)

		checklist := s.completeChecklist()
		delete(checklist.Items, "permits_current")
		_, err = s.service.SubmitChecklist(s.ctx, record.ID, checklist)
		s.Require().NoError(err)

		input := models.VerifyInput{
			VerifierName:   "Dana Reyes",
			Signature:      "sig:dana",
			DeviceLocation: onSite,
		}
		_, err = s.service.Verify(s.ctx, record.ID, input)
		verr := &models.VerificationError{}
		s.Require().ErrorAs(err, &verr)
		s.Equal([]models.Precondition{models.PreconditionIncompleteChecklist}, verr.Missing)
		s.Equal([]string{"permits_current"}, verr.MissingItems)

		_, err = s.service.SubmitChecklist(s.ctx, record.ID, models.Checklist{
			Items: map[string]string{"permits_current": "yes"},
		})
		s.Require().NoError(err)

		verified, err := s.service.Verify(s.ctx, record.ID, input)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, verified.Status)
		s.True(verified.OnSiteVerified)
		s.Require().NotNil(verified.VerifiedAt)
		s.Equal(s.now, *verified.VerifiedAt)
	})

	s.Run("device exactly on the boundary is inside", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("rebar-03"), "")
		s.Require().NoError(err)
		_, err = s.service.SubmitChecklist(s.ctx, record.ID, s.completeChecklist())
		s.Require().NoError(err)

		// Verify at the site centre itself: distance 0, trivially inside.
		verified, err := s.service.Verify(s.ctx, record.ID, models.VerifyInput{
			VerifierName:   "Dana Reyes",
			Signature:      "sig:dana",
			DeviceLocation: siteLocation,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, verified.Status)
	})

	s.Run("missing device location fails the geofence check", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("rebar-04"), "")
		s.Require().NoError(err)
		_, err = s.service.SubmitChecklist(s.ctx, record.ID, s.completeChecklist())
		s.Require().NoError(err)

		_, err = s.service.Verify(s.ctx, record.ID, models.VerifyInput{
			VerifierName: "Dana Reyes",
			Signature:    "sig:dana",
		})
		verr := &models.VerificationError{}
		s.Require().ErrorAs(err, &verr)
		s.Equal([]models.Precondition{models.PreconditionOutOfGeofence}, verr.Missing)
	})

	s.Run("unknown schema on the record counts as incomplete checklist", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("rebar-05"), "daily-safety/v2")
		s.Require().NoError(err)
		// Simulate a record whose schema the server no longer recognizes.
		_, err = s.service.gates.Execute(s.ctx, record.ID,
			func(*models.GateRecord) error { return nil },
			func(r *models.GateRecord) { r.Checklist.SchemaID = "retired/v0" },
		)
		s.Require().NoError(err)

		_, err = s.service.Verify(s.ctx, record.ID, models.VerifyInput{
			VerifierName:   "Dana Reyes",
			Signature:      "sig:dana",
			DeviceLocation: onSite,
		})
		verr := &models.VerificationError{}
		s.Require().ErrorAs(err, &verr)
		s.True(verr.Has(models.PreconditionIncompleteChecklist))
	})

	s.Run("re-verifying a verified gate conflicts", func() {
		record := s.verifiedGate("rebar-06")
		_, err := s.service.Verify(s.ctx, record.ID, models.VerifyInput{
			VerifierName:   "Dana Reyes",
			Signature:      "sig:dana",
			DeviceLocation: onSite,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *GateServiceSuite) TestCreateGatedLog() {
	s.Run("blocked without a gate record", func() {
		_, err := s.service.CreateGatedLog(s.ctx, s.todayKey("deck-01"), "poured slab", 6)
		blocked := &models.GateBlockedError{}
		s.Require().ErrorAs(err, &blocked)
	})

	s.Run("blocked while the gate is in progress", func() {
		_, err := s.service.Begin(s.ctx, s.todayKey("deck-02"), "")
		s.Require().NoError(err)
		_, err = s.service.CreateGatedLog(s.ctx, s.todayKey("deck-02"), "poured slab", 6)
		blocked := &models.GateBlockedError{}
		s.Require().ErrorAs(err, &blocked)
	})

	s.Run("allowed once the gate is verified", func() {
		gate := s.verifiedGate("deck-03")
		log, err := s.service.CreateGatedLog(s.ctx, s.todayKey("deck-03"), "poured slab", 6)
		s.Require().NoError(err)
		s.Equal(gate.ID, log.GateRecordID)
		s.Equal("foreman@site", log.Actor)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableGatedLogs, log.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionGatedLogCreated, entries[0].Action)
	})

	s.Run("second log for the same day conflicts", func() {
		s.verifiedGate("deck-04")
		_, err := s.service.CreateGatedLog(s.ctx, s.todayKey("deck-04"), "first", 4)
		s.Require().NoError(err)
		_, err = s.service.CreateGatedLog(s.ctx, s.todayKey("deck-04"), "second", 4)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("gate-optional project admits logs without a gate", func() {
		project, err := s.projects.CreateProject(s.ctx, "Laydown Yard", siteLocation, 500, "UTC")
		s.Require().NoError(err)
		_, err = s.projects.UpdateFlags(s.ctx, project.ID,
			projectmodels.Flags{GateRequired: false, ComplianceRequired: true})
		s.Require().NoError(err)

		key := models.Key{ProjectID: project.ID, WorkUnitID: "yard-01", Date: id.DayOf(s.now)}
		log, err := s.service.CreateGatedLog(s.ctx, key, "unloaded steel", 2)
		s.Require().NoError(err)
		s.True(log.GateRecordID.IsNil())
	})

	s.Run("concurrent submissions produce exactly one log", func() {
		s.verifiedGate("deck-05")
		key := s.todayKey("deck-05")

		const attempts = 16
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.service.CreateGatedLog(s.ctx, key, "race", 3)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				s.True(dErrors.HasCode(err, dErrors.CodeConflict))
			}
		}
		s.Equal(1, succeeded)
	})
}

func (s *GateServiceSuite) TestCanCreateGatedLog() {
	s.Run("reports the gate state without creating anything", func() {
		key := s.todayKey("lift-01")
		allowed, reason, err := s.service.CanCreateGatedLog(s.ctx, key)
		s.Require().NoError(err)
		s.False(allowed)
		s.Equal("no gate record for this work unit and date", reason)

		s.verifiedGate("lift-01")
		allowed, _, err = s.service.CanCreateGatedLog(s.ctx, key)
		s.Require().NoError(err)
		s.True(allowed)

		_, err = s.service.CreateGatedLog(s.ctx, key, "set mechanical units", 5)
		s.Require().NoError(err)
		allowed, reason, err = s.service.CanCreateGatedLog(s.ctx, key)
		s.Require().NoError(err)
		s.False(allowed)
		s.Equal("log already exists for this work unit and date", reason)
	})
}

func (s *GateServiceSuite) TestExpireStale() {
	s.Run("unverified gates expire once their day has passed", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("pile-01"), "")
		s.Require().NoError(err)
		verified := s.verifiedGate("pile-02")

		nextDay := requestcontext.WithTime(s.ctx, s.now.AddDate(0, 0, 1))
		count, err := s.service.ExpireStale(nextDay)
		s.Require().NoError(err)
		s.Equal(1, count)

		expired, err := s.service.GetGate(nextDay, s.todayKey("pile-01"))
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, expired.Status)

		kept, err := s.service.GetGate(nextDay, verified.Key)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, kept.Status)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableGateRecords, record.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(audit.ActionGateExpired, entries[1].Action)
	})

	s.Run("expired gates block logs and reject late verification", func() {
		record, err := s.service.Begin(s.ctx, s.todayKey("pile-03"), "")
		s.Require().NoError(err)
		_, err = s.service.SubmitChecklist(s.ctx, record.ID, s.completeChecklist())
		s.Require().NoError(err)

		nextDay := requestcontext.WithTime(s.ctx, s.now.AddDate(0, 0, 1))
		_, err = s.service.ExpireStale(nextDay)
		s.Require().NoError(err)

		_, err = s.service.Verify(nextDay, record.ID, models.VerifyInput{
			VerifierName:   "Dana Reyes",
			Signature:      "sig:dana",
			DeviceLocation: onSite,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		_, err = s.service.CreateGatedLog(nextDay, s.todayKey("pile-03"), "late report", 3)
		blocked := &models.GateBlockedError{}
		s.Require().ErrorAs(err, &blocked)
		s.Equal("gate is not verified", blocked.Reason)
	})

	s.Run("idempotent on repeat sweeps", func() {
		nextDay := requestcontext.WithTime(s.ctx, s.now.AddDate(0, 0, 1))
		_, err := s.service.ExpireStale(nextDay)
		s.Require().NoError(err)
		count, err := s.service.ExpireStale(nextDay)
		s.Require().NoError(err)
		s.Equal(0, count)
	})
}
