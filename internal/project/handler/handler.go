// Package handler exposes the project admin API. All routes sit behind the
// admin token middleware.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/project/models"
	"sitegate/internal/project/service"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	projects *service.ProjectService
}

func New(projects *service.ProjectService) *Handler {
	return &Handler{projects: projects}
}

// Routes mounts the admin project endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/projects", h.createProject)
	r.Get("/projects/{projectID}", h.getProject)
	r.Put("/projects/{projectID}/thresholds", h.updateThresholds)
	r.Put("/projects/{projectID}/flags", h.updateFlags)
	r.Post("/projects/{projectID}/deactivate", h.deactivateProject)
	r.Post("/projects/{projectID}/reactivate", h.reactivateProject)
}

type createProjectRequest struct {
	Name            string  `json:"name"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	GeofenceRadiusM float64 `json:"geofence_radius_m"`
	Timezone        string  `json:"timezone"`
}

type projectResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Latitude        float64           `json:"latitude"`
	Longitude       float64           `json:"longitude"`
	GeofenceRadiusM float64           `json:"geofence_radius_m"`
	Timezone        string            `json:"timezone"`
	Thresholds      models.Thresholds `json:"thresholds"`
	Flags           models.Flags      `json:"flags"`
	Status          string            `json:"status"`
}

func toProjectResponse(p *models.Project) projectResponse {
	return projectResponse{
		ID:              p.ID.String(),
		Name:            p.Name,
		Latitude:        p.Location.Latitude,
		Longitude:       p.Location.Longitude,
		GeofenceRadiusM: p.GeofenceRadiusM,
		Timezone:        p.Timezone,
		Thresholds:      p.Thresholds,
		Flags:           p.Flags,
		Status:          string(p.Status),
	}
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	project, err := h.projects.CreateProject(r.Context(), req.Name,
		geo.Point{Latitude: req.Latitude, Longitude: req.Longitude},
		req.GeofenceRadiusM, req.Timezone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toProjectResponse(project))
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var thresholds models.Thresholds
	if err := httputil.DecodeJSON(r, &thresholds); err != nil {
		httputil.WriteError(w, err)
		return
	}
	project, err := h.projects.UpdateThresholds(r.Context(), projectID, thresholds)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) updateFlags(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var flags models.Flags
	if err := httputil.DecodeJSON(r, &flags); err != nil {
		httputil.WriteError(w, err)
		return
	}
	project, err := h.projects.UpdateFlags(r.Context(), projectID, flags)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) deactivateProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	project, err := h.projects.DeactivateProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) reactivateProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	project, err := h.projects.ReactivateProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}
