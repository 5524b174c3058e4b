// Package service implements the daily safety gate: a work unit's field report
// is blocked until that day's verification checklist is signed off on site.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	gatemetrics "sitegate/internal/gate/metrics"
	"sitegate/internal/gate/models"
	projectmodels "sitegate/internal/project/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/platform/tx"
	"sitegate/pkg/requestcontext"
)

// GateStore is the persistence contract for gate records and gated logs.
type GateStore interface {
	CreateIfAbsent(ctx context.Context, record *models.GateRecord) error
	FindByID(ctx context.Context, recordID id.GateRecordID) (*models.GateRecord, error)
	FindByKey(ctx context.Context, key models.Key) (*models.GateRecord, error)
	Execute(ctx context.Context, recordID id.GateRecordID, validate func(*models.GateRecord) error, mutate func(*models.GateRecord)) (*models.GateRecord, error)
	CreateLogForVerifiedGate(ctx context.Context, key models.Key, gateRequired bool, build func(gate *models.GateRecord) *models.GatedLog) (*models.GatedLog, error)
	FindLogByKey(ctx context.Context, key models.Key) (*models.GatedLog, error)
	ExpireBefore(ctx context.Context, projectID id.ProjectID, cutoff id.Day, now time.Time) ([]*models.GateRecord, error)
}

// ProjectDirectory is the slice of the project module the gate needs: geofence
// and flag lookups plus the active set for the expiry sweep.
type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID id.ProjectID) (*projectmodels.Project, error)
	ListActiveProjects(ctx context.Context) ([]*projectmodels.Project, error)
}

// GateService manages the gate lifecycle and the gated log invariant.
type GateService struct {
	gates    GateStore
	projects ProjectDirectory
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *gatemetrics.Metrics
	tx       tx.Runner
}

// Option configures the service.
type Option func(*GateService)

// WithMetrics attaches module metrics.
func WithMetrics(m *gatemetrics.Metrics) Option {
	return func(s *GateService) { s.metrics = m }
}

// WithTxRunner overrides the transaction runner (Postgres wiring).
func WithTxRunner(runner tx.Runner) Option {
	return func(s *GateService) { s.tx = runner }
}

// NewGateService builds the service.
func NewGateService(gates GateStore, projects ProjectDirectory, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *GateService {
	s := &GateService{
		gates:    gates,
		projects: projects,
		recorder: recorder,
		logger:   logger,
		tx:       tx.PassThrough{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin opens the day's verification for a work unit. At most one gate record
// exists per (project, work unit, date); a second Begin for the same key is a
// conflict.
func (s *GateService) Begin(ctx context.Context, key models.Key, schemaID string) (*models.GateRecord, error) {
	if key.ProjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	if strings.TrimSpace(string(key.WorkUnitID)) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "work unit id is required")
	}
	if key.Date.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "date is required")
	}
	if schemaID == "" {
		schemaID = models.DefaultSchemaID
	}
	if _, known := models.RequiredItems(schemaID); !known {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown checklist schema %q", schemaID)
	}

	project, err := s.projects.GetProject(ctx, key.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != projectmodels.StatusActive {
		return nil, dErrors.New(dErrors.CodeConflict, "project is inactive")
	}
	now := requestcontext.Now(ctx)
	if key.Date.Before(id.DayOf(now.In(project.Loc()))) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cannot begin a gate for a past date")
	}

	var record *models.GateRecord
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r := models.NewGateRecord(id.NewGateRecordID(), key, schemaID, now)
		if err := s.gates.CreateIfAbsent(txCtx, r); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeConflict, "gate already begun for this work unit and date")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create gate record")
		}
		if err := s.recorder.Record(txCtx, audit.TableGateRecords, r.ID.String(), audit.ActionGateBegun, nil, r); err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.GatesBegun.Inc()
	}
	s.logger.InfoContext(ctx, "gate begun",
		"gate_record_id", record.ID.String(),
		"project_id", key.ProjectID.String(),
		"work_unit_id", string(key.WorkUnitID),
		"date", key.Date.String())
	return record, nil
}

// GetGate returns the gate record for a key.
func (s *GateService) GetGate(ctx context.Context, key models.Key) (*models.GateRecord, error) {
	record, err := s.gates.FindByKey(ctx, key)
	if err != nil {
		return nil, wrapGateErr(err)
	}
	return record, nil
}

// SubmitChecklist overlays checklist answers onto an open gate. Submissions
// are cumulative; a verified or expired gate no longer accepts answers.
func (s *GateService) SubmitChecklist(ctx context.Context, recordID id.GateRecordID, checklist models.Checklist) (*models.GateRecord, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "gate record id is required")
	}
	if checklist.SchemaID != "" {
		if _, known := models.RequiredItems(checklist.SchemaID); !known {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown checklist schema %q", checklist.SchemaID)
		}
	}

	now := requestcontext.Now(ctx)
	var before models.Checklist
	record, err := s.gates.Execute(ctx, recordID,
		func(r *models.GateRecord) error {
			if err := checkOpen(r); err != nil {
				return err
			}
			before = r.Checklist
			return nil
		},
		func(r *models.GateRecord) {
			r.MergeChecklist(checklist, now)
		},
	)
	if err != nil {
		return nil, wrapGateErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableGateRecords, recordID.String(), audit.ActionChecklistSubmitted,
		map[string]any{"checklist": before},
		map[string]any{"checklist": record.Checklist},
	); err != nil {
		return nil, err
	}
	return record, nil
}

// Verify attempts the Verified transition. All unmet preconditions are
// evaluated and reported together so a field worker fixes everything in one
// round trip instead of discovering failures one at a time.
func (s *GateService) Verify(ctx context.Context, recordID id.GateRecordID, input models.VerifyInput) (*models.GateRecord, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "gate record id is required")
	}
	if strings.TrimSpace(input.VerifierName) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "verifier name is required")
	}

	current, err := s.gates.FindByID(ctx, recordID)
	if err != nil {
		return nil, wrapGateErr(err)
	}
	project, err := s.projects.GetProject(ctx, current.Key.ProjectID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var before models.GateRecord
	record, err := s.gates.Execute(ctx, recordID,
		func(r *models.GateRecord) error {
			if err := checkOpen(r); err != nil {
				return err
			}
			before = *r
			return s.checkPreconditions(r, input, project)
		},
		func(r *models.GateRecord) {
			r.ApplyVerification(input.VerifierName, input.Signature, input.CrewAcknowledgments, true, now)
		},
	)
	if err != nil {
		var verr *models.VerificationError
		if errors.As(err, &verr) && s.metrics != nil {
			for _, p := range verr.Missing {
				s.metrics.VerificationFailures.WithLabelValues(string(p)).Inc()
			}
		}
		return nil, wrapGateErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableGateRecords, recordID.String(), audit.ActionGateVerified, &before, record); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.GatesVerified.Inc()
	}
	s.logger.InfoContext(ctx, "gate verified",
		"gate_record_id", recordID.String(),
		"project_id", record.Key.ProjectID.String(),
		"work_unit_id", string(record.Key.WorkUnitID),
		"verifier", record.VerifierName)
	return record, nil
}

// checkPreconditions collects every unmet verification requirement. An unknown
// checklist schema counts as an incomplete checklist: requirements that cannot
// be read cannot be satisfied.
func (s *GateService) checkPreconditions(r *models.GateRecord, input models.VerifyInput, project *projectmodels.Project) error {
	verr := &models.VerificationError{}

	missing, known := r.Checklist.MissingItems()
	if !known || len(missing) > 0 {
		verr.Missing = append(verr.Missing, models.PreconditionIncompleteChecklist)
		verr.MissingItems = missing
	}
	if strings.TrimSpace(input.Signature) == "" {
		verr.Missing = append(verr.Missing, models.PreconditionMissingSignature)
	}
	if input.DeviceLocation.IsZero() ||
		!geo.WithinRadius(project.Location, input.DeviceLocation, project.GeofenceRadiusM) {
		verr.Missing = append(verr.Missing, models.PreconditionOutOfGeofence)
	}

	if len(verr.Missing) > 0 {
		return verr
	}
	return nil
}

// CanCreateGatedLog reports whether a log for the key would be admitted right
// now, without creating anything. Devices call this to grey out the report
// form before the crew types a summary.
func (s *GateService) CanCreateGatedLog(ctx context.Context, key models.Key) (bool, string, error) {
	project, err := s.projects.GetProject(ctx, key.ProjectID)
	if err != nil {
		return false, "", err
	}
	if _, err := s.gates.FindLogByKey(ctx, key); err == nil {
		return false, "log already exists for this work unit and date", nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return false, "", dErrors.Wrap(err, dErrors.CodeInternal, "gate store failure")
	}
	if !project.Flags.GateRequired {
		return true, "", nil
	}

	record, err := s.gates.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, "no gate record for this work unit and date", nil
		}
		return false, "", dErrors.Wrap(err, dErrors.CodeInternal, "gate store failure")
	}
	if record.Status != models.StatusVerified {
		return false, "gate is " + string(record.Status), nil
	}
	return true, "", nil
}

// CreateGatedLog creates the daily field report. The verified-gate check and
// the insert happen in one store transaction, so two racing submissions
// produce exactly one log and the loser gets a conflict.
func (s *GateService) CreateGatedLog(ctx context.Context, key models.Key, summary string, crewCount int) (*models.GatedLog, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "summary is required")
	}
	if crewCount < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "crew count must not be negative")
	}

	project, err := s.projects.GetProject(ctx, key.ProjectID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)
	log, err := s.gates.CreateLogForVerifiedGate(ctx, key, project.Flags.GateRequired,
		func(gate *models.GateRecord) *models.GatedLog {
			l := &models.GatedLog{
				ID:        id.NewGatedLogID(),
				Key:       key,
				Summary:   summary,
				CrewCount: crewCount,
				Actor:     actor,
				CreatedAt: now,
			}
			if gate != nil {
				l.GateRecordID = gate.ID
			}
			return l
		})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			if s.metrics != nil {
				s.metrics.LogsBlocked.Inc()
			}
			return nil, &models.GateBlockedError{Key: key, Reason: "no gate record for this work unit and date"}
		case errors.Is(err, sentinel.ErrInvalidState):
			if s.metrics != nil {
				s.metrics.LogsBlocked.Inc()
			}
			return nil, &models.GateBlockedError{Key: key, Reason: "gate is not verified"}
		case errors.Is(err, sentinel.ErrAlreadyExists):
			return nil, dErrors.New(dErrors.CodeConflict, "log already exists for this work unit and date")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create gated log")
		}
	}

	if err := s.recorder.Record(ctx, audit.TableGatedLogs, log.ID.String(), audit.ActionGatedLogCreated, nil, log); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LogsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "gated log created",
		"gated_log_id", log.ID.String(),
		"project_id", key.ProjectID.String(),
		"work_unit_id", string(key.WorkUnitID),
		"date", key.Date.String())
	return log, nil
}

// GetGatedLog returns the log for a key.
func (s *GateService) GetGatedLog(ctx context.Context, key models.Key) (*models.GatedLog, error) {
	log, err := s.gates.FindLogByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "gated log not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "gate store failure")
	}
	return log, nil
}

// ExpireStale sweeps every active project and expires gate records whose date
// has passed in the project's timezone without reaching Verified. Expiry is
// one way; an expired record never reverts, the crew begins a fresh gate.
func (s *GateService) ExpireStale(ctx context.Context) (int, error) {
	projects, err := s.projects.ListActiveProjects(ctx)
	if err != nil {
		return 0, err
	}

	now := requestcontext.Now(ctx)
	total := 0
	for _, project := range projects {
		cutoff := id.DayOf(now.In(project.Loc()))
		expired, err := s.gates.ExpireBefore(ctx, project.ID, cutoff, now)
		if err != nil {
			return total, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire gate records")
		}
		for _, record := range expired {
			if err := s.recorder.Record(ctx, audit.TableGateRecords, record.ID.String(), audit.ActionGateExpired, nil, record); err != nil {
				return total, err
			}
		}
		total += len(expired)
		if s.metrics != nil {
			s.metrics.GatesExpired.Add(float64(len(expired)))
		}
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "expired stale gates", "count", total)
	}
	return total, nil
}

func checkOpen(r *models.GateRecord) error {
	switch r.Status {
	case models.StatusVerified:
		return dErrors.New(dErrors.CodeConflict, "gate is already verified")
	case models.StatusExpired:
		return dErrors.New(dErrors.CodeConflict, "gate has expired; begin a new one")
	default:
		return nil
	}
}

func wrapGateErr(err error) error {
	var verr *models.VerificationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "gate record not found")
	case errors.As(err, &verr):
		return err
	case dErrors.HasCode(err, dErrors.CodeConflict),
		dErrors.HasCode(err, dErrors.CodeBadRequest):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "gate store failure")
	}
}
