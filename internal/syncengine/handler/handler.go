// Package handler exposes the sync API used by field devices to upload queued
// work and check what the server did with it.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/syncengine/models"
	"sitegate/internal/syncengine/service"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/httputil"
	"sitegate/pkg/requestcontext"
)

type Handler struct {
	sync *service.SyncService
}

func New(sync *service.SyncService) *Handler {
	return &Handler{sync: sync}
}

// Routes mounts the sync endpoints. The device middleware must run first; the
// acting device comes from the request context, never from the body.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sync/batch", h.enqueueBatch)
	r.Get("/sync/items", h.listItems)
	r.Get("/sync/items/{itemID}", h.getItem)
}

type batchItemRequest struct {
	ItemID     string          `json:"item_id"`
	ProjectID  string          `json:"project_id"`
	RecordType string          `json:"record_type"`
	RecordID   string          `json:"record_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Priority   string          `json:"priority,omitempty"`
	CapturedAt string          `json:"captured_at,omitempty"`
}

type batchRequest struct {
	Items []batchItemRequest `json:"items"`
}

type itemResponse struct {
	ID            string          `json:"id"`
	DeviceID      string          `json:"device_id"`
	ProjectID     string          `json:"project_id"`
	RecordType    string          `json:"record_type"`
	RecordID      string          `json:"record_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      string          `json:"priority"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CapturedAt    time.Time       `json:"captured_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func priorityName(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return "high"
	case models.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func parsePriority(name string) (models.Priority, error) {
	switch name {
	case "high":
		return models.PriorityHigh, nil
	case "normal":
		return models.PriorityNormal, nil
	case "low":
		return models.PriorityLow, nil
	default:
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "unknown priority %q", name)
	}
}

func toItemResponse(item *models.Item, includePayload bool) itemResponse {
	resp := itemResponse{
		ID:            item.ID.String(),
		DeviceID:      item.DeviceID.String(),
		ProjectID:     item.ProjectID.String(),
		RecordType:    item.RecordType,
		RecordID:      item.RecordID,
		Priority:      priorityName(item.Priority),
		Status:        string(item.Status),
		Attempts:      item.Attempts,
		NextAttemptAt: item.NextAttemptAt,
		LastError:     item.LastError,
		CapturedAt:    item.CapturedAt,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	if includePayload {
		resp.Payload = item.Payload
	}
	return resp
}

func (h *Handler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	deviceID := requestcontext.Device(r.Context())
	if deviceID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "device identity is required"))
		return
	}

	var req batchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	inputs := make([]service.EnqueueInput, 0, len(req.Items))
	for _, item := range req.Items {
		itemID, err := id.ParseSyncItemID(item.ItemID)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "item_id must be a UUID"))
			return
		}
		projectID, err := id.ParseProjectID(item.ProjectID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		input := service.EnqueueInput{
			ItemID:     itemID,
			ProjectID:  projectID,
			RecordType: item.RecordType,
			RecordID:   item.RecordID,
			Payload:    item.Payload,
		}
		if item.Priority != "" {
			priority, err := parsePriority(item.Priority)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			input.Priority = &priority
		}
		if item.CapturedAt != "" {
			capturedAt, err := time.Parse(time.RFC3339, item.CapturedAt)
			if err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "captured_at must be RFC 3339"))
				return
			}
			input.CapturedAt = capturedAt
		}
		inputs = append(inputs, input)
	}

	accepted, err := h.sync.Enqueue(r.Context(), deviceID, inputs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(accepted))
	for _, item := range accepted {
		out = append(out, toItemResponse(item, false))
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"items": out})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	deviceID := requestcontext.Device(r.Context())
	if deviceID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "device identity is required"))
		return
	}

	var statuses []models.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			status := models.Status(strings.TrimSpace(name))
			switch status {
			case models.StatusPending, models.StatusInFlight, models.StatusApplied,
				models.StatusConflict, models.StatusFailed:
				statuses = append(statuses, status)
			default:
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown status %q", name))
				return
			}
		}
	}

	items, err := h.sync.ListByDevice(r.Context(), deviceID, statuses)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item, false))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := id.ParseSyncItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "item id must be a UUID"))
		return
	}
	item, err := h.sync.GetItem(r.Context(), itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deviceID := requestcontext.Device(r.Context())
	if !deviceID.IsNil() && item.DeviceID != deviceID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "item belongs to another device"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toItemResponse(item, true))
}
