// Package handler exposes the read-only audit trail: the mutation history of
// one record and a recent-activity feed. There are no write endpoints; entries
// exist only as a side effect of domain mutations.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/httputil"
)

const defaultRecentLimit = 50

// auditedTables guards the path parameter; querying an unknown table is a
// client mistake, not an empty result.
var auditedTables = map[string]bool{
	audit.TableProjects:              true,
	audit.TableGateRecords:           true,
	audit.TableGatedLogs:             true,
	audit.TableEvidence:              true,
	audit.TableEnvironmentalCaptures: true,
	audit.TableComplianceEvents:      true,
	audit.TableAlerts:                true,
	audit.TableSyncItems:             true,
	audit.TableDevices:               true,
}

type Handler struct {
	store audit.Store
}

func New(store audit.Store) *Handler {
	return &Handler{store: store}
}

// Routes mounts the audit endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit/recent", h.listRecent)
	r.Get("/audit/{table}/{recordID}", h.listByRecord)
}

type entryResponse struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	RecordID    string          `json:"record_id"`
	Action      string          `json:"action"`
	OldSnapshot json.RawMessage `json:"old_snapshot,omitempty"`
	NewSnapshot json.RawMessage `json:"new_snapshot,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Device      string          `json:"device,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

func toEntryResponses(entries []audit.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:          e.ID.String(),
			Table:       e.Table,
			RecordID:    e.RecordID,
			Action:      e.Action,
			OldSnapshot: e.OldSnapshot,
			NewSnapshot: e.NewSnapshot,
			Actor:       e.Actor,
			Device:      e.Device,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}

func (h *Handler) listByRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !auditedTables[table] {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown audit table %q", table))
		return
	}
	recordID := chi.URLParam(r, "recordID")
	if recordID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "record id is required"))
		return
	}

	entries, err := h.store.ListByRecord(r.Context(), table, recordID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit store failure"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	entries, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit store failure"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEntryResponses(entries))
}
