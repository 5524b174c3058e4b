// Package audit defines the append-only mutation history for gated records.
// Every mutation performed by the gate, evidence, weather, compliance and sync
// modules produces exactly one Entry. Entries are never updated or deleted;
// this trail is the system's source of truth for dispute resolution.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry captures a single mutation: what changed, who changed it, and the
// before/after snapshots. Snapshots are stored verbatim as JSON.
type Entry struct {
	ID          uuid.UUID
	Table       string
	RecordID    string
	Action      string
	OldSnapshot json.RawMessage
	NewSnapshot json.RawMessage
	Actor       string
	Device      string
	Timestamp   time.Time
}

// Audited table names.
const (
	TableProjects              = "projects"
	TableGateRecords           = "gate_records"
	TableGatedLogs             = "gated_logs"
	TableEvidence              = "evidence"
	TableEnvironmentalCaptures = "environmental_captures"
	TableComplianceEvents      = "compliance_events"
	TableAlerts                = "alerts"
	TableSyncItems             = "sync_items"
	TableDevices               = "devices"
)

// Audit actions. The sync engine records conflict losers under
// ActionSyncConflictDiscarded so no offline write is ever lost, even when the
// row content resolves in the other writer's favor.
const (
	ActionCreate                = "create"
	ActionUpdate                = "update"
	ActionDeactivate            = "deactivate"
	ActionReactivate            = "reactivate"
	ActionGateBegun             = "gate_begun"
	ActionChecklistSubmitted    = "checklist_submitted"
	ActionGateVerified          = "gate_verified"
	ActionGateExpired           = "gate_expired"
	ActionGatedLogCreated       = "gated_log_created"
	ActionEvidenceCaptured      = "evidence_captured"
	ActionEvidenceAnnotated     = "evidence_annotated"
	ActionCaptureRecorded       = "capture_recorded"
	ActionCaptureAcknowledged   = "capture_acknowledged"
	ActionVerificationRecorded  = "verification_recorded"
	ActionAlertRaised           = "alert_raised"
	ActionAlertAcknowledged     = "alert_acknowledged"
	ActionSyncApplied           = "sync_applied"
	ActionSyncConflictDiscarded = "sync_conflict_discarded"
	ActionSyncFailed            = "sync_failed"
)

// Store is the append-only persistence contract. There is no update or delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByRecord(ctx context.Context, table, recordID string) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}
