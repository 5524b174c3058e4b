// Package handler exposes the compliance API: recording verifications and
// reading a project day's standing.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/compliance/models"
	"sitegate/internal/compliance/service"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	compliance *service.ComplianceService
}

func New(compliance *service.ComplianceService) *Handler {
	return &Handler{compliance: compliance}
}

// Routes mounts the compliance endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/compliance/verifications", h.recordVerification)
	r.Get("/projects/{projectID}/compliance/{date}", h.getStanding)
	r.Get("/projects/{projectID}/compliance/{date}/events", h.listEvents)
	r.Get("/projects/{projectID}/work-units/{workUnitID}/compliance/{date}", h.getWorkUnitStanding)
}

type recordVerificationRequest struct {
	EventID    string `json:"event_id,omitempty"`
	ProjectID  string `json:"project_id"`
	WorkUnitID string `json:"work_unit_id"`
	Date       string `json:"date"`
	Method     string `json:"method"`
	Verifier   string `json:"verifier"`
	Notes      string `json:"notes,omitempty"`
}

type eventResponse struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	WorkUnitID string    `json:"work_unit_id"`
	Date       string    `json:"date"`
	Method     string    `json:"method"`
	Verifier   string    `json:"verifier"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toEventResponse(e *models.Event) eventResponse {
	return eventResponse{
		ID:         e.ID.String(),
		ProjectID:  e.ProjectID.String(),
		WorkUnitID: string(e.WorkUnitID),
		Date:       e.Day.String(),
		Method:     e.Method,
		Verifier:   e.Verifier,
		Notes:      e.Notes,
		CreatedAt:  e.CreatedAt,
	}
}

func (h *Handler) recordVerification(w http.ResponseWriter, r *http.Request) {
	var req recordVerificationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	projectID, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	day, err := id.ParseDay(req.Date)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD"))
		return
	}
	var eventID id.ComplianceEventID
	if req.EventID != "" {
		eventID, err = id.ParseComplianceEventID(req.EventID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	event, err := h.compliance.RecordVerification(r.Context(), eventID, projectID, id.WorkUnitID(req.WorkUnitID), day, req.Method, req.Verifier, req.Notes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEventResponse(event))
}

func parseDayPath(r *http.Request) (id.ProjectID, id.Day, error) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		return id.ProjectID{}, id.Day{}, err
	}
	day, err := id.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		return id.ProjectID{}, id.Day{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD")
	}
	return projectID, day, nil
}

func (h *Handler) getStanding(w http.ResponseWriter, r *http.Request) {
	projectID, day, err := parseDayPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	standing, err := h.compliance.Standing(r.Context(), projectID, day)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeStanding(w, standing)
}

func (h *Handler) getWorkUnitStanding(w http.ResponseWriter, r *http.Request) {
	projectID, day, err := parseDayPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	workUnitID := id.WorkUnitID(chi.URLParam(r, "workUnitID"))
	standing, err := h.compliance.WorkUnitStanding(r.Context(), projectID, workUnitID, day)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeStanding(w, standing)
}

func writeStanding(w http.ResponseWriter, standing *service.Standing) {
	out := map[string]any{
		"project_id": standing.ProjectID.String(),
		"date":       standing.Day.String(),
		"count":      standing.Count,
		"required":   standing.Required,
		"compliant":  standing.Compliant,
	}
	if standing.WorkUnitID != "" {
		out["work_unit_id"] = string(standing.WorkUnitID)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	projectID, day, err := parseDayPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.compliance.ListByDay(r.Context(), projectID, day)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
