// Package handler exposes the gate API used by field devices. All routes sit
// behind device token authentication.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/gate/models"
	"sitegate/internal/gate/service"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	gates *service.GateService
}

func New(gates *service.GateService) *Handler {
	return &Handler{gates: gates}
}

// Routes mounts the gate and gated log endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/gates", h.beginGate)
	r.Get("/gates/{projectID}/{workUnitID}/{date}", h.getGate)
	r.Post("/gates/{gateID}/checklist", h.submitChecklist)
	r.Post("/gates/{gateID}/verify", h.verifyGate)
	r.Get("/logs/{projectID}/{workUnitID}/{date}/eligibility", h.logEligibility)
	r.Post("/logs", h.createLog)
	r.Get("/logs/{projectID}/{workUnitID}/{date}", h.getLog)
}

type beginGateRequest struct {
	ProjectID  string `json:"project_id"`
	WorkUnitID string `json:"work_unit_id"`
	Date       string `json:"date"`
	SchemaID   string `json:"schema_id,omitempty"`
}

type gateResponse struct {
	ID                  string           `json:"id"`
	ProjectID           string           `json:"project_id"`
	WorkUnitID          string           `json:"work_unit_id"`
	Date                string           `json:"date"`
	Status              string           `json:"status"`
	Checklist           models.Checklist `json:"checklist"`
	VerifierName        string           `json:"verifier_name,omitempty"`
	CrewAcknowledgments []string         `json:"crew_acknowledgments,omitempty"`
	OnSiteVerified      bool             `json:"on_site_verified"`
	VerifiedAt          *time.Time       `json:"verified_at,omitempty"`
}

func toGateResponse(r *models.GateRecord) gateResponse {
	return gateResponse{
		ID:                  r.ID.String(),
		ProjectID:           r.Key.ProjectID.String(),
		WorkUnitID:          string(r.Key.WorkUnitID),
		Date:                r.Key.Date.String(),
		Status:              string(r.Status),
		Checklist:           r.Checklist,
		VerifierName:        r.VerifierName,
		CrewAcknowledgments: r.CrewAcknowledgments,
		OnSiteVerified:      r.OnSiteVerified,
		VerifiedAt:          r.VerifiedAt,
	}
}

type logResponse struct {
	ID           string `json:"id"`
	GateRecordID string `json:"gate_record_id,omitempty"`
	ProjectID    string `json:"project_id"`
	WorkUnitID   string `json:"work_unit_id"`
	Date         string `json:"date"`
	Summary      string `json:"summary"`
	CrewCount    int    `json:"crew_count"`
	Actor        string `json:"actor"`
}

func toLogResponse(l *models.GatedLog) logResponse {
	resp := logResponse{
		ID:         l.ID.String(),
		ProjectID:  l.Key.ProjectID.String(),
		WorkUnitID: string(l.Key.WorkUnitID),
		Date:       l.Key.Date.String(),
		Summary:    l.Summary,
		CrewCount:  l.CrewCount,
		Actor:      l.Actor,
	}
	if !l.GateRecordID.IsNil() {
		resp.GateRecordID = l.GateRecordID.String()
	}
	return resp
}

func keyFromPath(r *http.Request) (models.Key, error) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		return models.Key{}, err
	}
	date, err := id.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		return models.Key{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD")
	}
	return models.Key{
		ProjectID:  projectID,
		WorkUnitID: id.WorkUnitID(chi.URLParam(r, "workUnitID")),
		Date:       date,
	}, nil
}

func (h *Handler) beginGate(w http.ResponseWriter, r *http.Request) {
	var req beginGateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	projectID, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	date, err := id.ParseDay(req.Date)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD"))
		return
	}

	key := models.Key{ProjectID: projectID, WorkUnitID: id.WorkUnitID(req.WorkUnitID), Date: date}
	record, err := h.gates.Begin(r.Context(), key, req.SchemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toGateResponse(record))
}

func (h *Handler) getGate(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.gates.GetGate(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGateResponse(record))
}

func (h *Handler) submitChecklist(w http.ResponseWriter, r *http.Request) {
	gateID, err := id.ParseGateRecordID(chi.URLParam(r, "gateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var checklist models.Checklist
	if err := httputil.DecodeJSON(r, &checklist); err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.gates.SubmitChecklist(r.Context(), gateID, checklist)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGateResponse(record))
}

type verifyGateRequest struct {
	VerifierName        string   `json:"verifier_name"`
	Signature           string   `json:"signature"`
	CrewAcknowledgments []string `json:"crew_acknowledgments"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
}

type verificationFailure struct {
	Missing      []models.Precondition `json:"missing"`
	MissingItems []string              `json:"missing_items,omitempty"`
}

func (h *Handler) verifyGate(w http.ResponseWriter, r *http.Request) {
	gateID, err := id.ParseGateRecordID(chi.URLParam(r, "gateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req verifyGateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.gates.Verify(r.Context(), gateID, models.VerifyInput{
		VerifierName:        req.VerifierName,
		Signature:           req.Signature,
		CrewAcknowledgments: req.CrewAcknowledgments,
		DeviceLocation:      geo.Point{Latitude: req.Latitude, Longitude: req.Longitude},
	})
	if err != nil {
		var verr *models.VerificationError
		if errors.As(err, &verr) {
			httputil.WriteErrorDetails(w,
				dErrors.New(dErrors.CodeInvariantViolation, verr.Error()),
				verificationFailure{Missing: verr.Missing, MissingItems: verr.MissingItems})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGateResponse(record))
}

func (h *Handler) logEligibility(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	allowed, reason, err := h.gates.CanCreateGatedLog(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"allowed": allowed,
		"reason":  reason,
	})
}

type createLogRequest struct {
	ProjectID  string `json:"project_id"`
	WorkUnitID string `json:"work_unit_id"`
	Date       string `json:"date"`
	Summary    string `json:"summary"`
	CrewCount  int    `json:"crew_count"`
}

func (h *Handler) createLog(w http.ResponseWriter, r *http.Request) {
	var req createLogRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	projectID, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	date, err := id.ParseDay(req.Date)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD"))
		return
	}

	key := models.Key{ProjectID: projectID, WorkUnitID: id.WorkUnitID(req.WorkUnitID), Date: date}
	log, err := h.gates.CreateGatedLog(r.Context(), key, req.Summary, req.CrewCount)
	if err != nil {
		var blocked *models.GateBlockedError
		if errors.As(err, &blocked) {
			httputil.WriteErrorDetails(w,
				dErrors.New(dErrors.CodeInvariantViolation, blocked.Error()),
				map[string]string{"reason": blocked.Reason})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toLogResponse(log))
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	log, err := h.gates.GetGatedLog(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLogResponse(log))
}
