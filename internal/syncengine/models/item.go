// Package models defines the offline sync queue: work captured on a
// disconnected device and replayed against the server once connectivity
// returns.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
)

// Priority orders the queue. Lower values drain first; within a priority,
// items apply in enqueue order.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// RecordType names what an item carries.
const (
	RecordTypeGateRecord      = "gate_record"
	RecordTypeGatedLog        = "gated_log"
	RecordTypeEvidence        = "evidence"
	RecordTypeComplianceEvent = "compliance_event"
	RecordTypeEnvCapture      = "environmental_capture"
)

// DefaultPriority maps record types to their drain order: safety gate state
// first, daily records next, bulky evidence and sensor data last.
func DefaultPriority(recordType string) Priority {
	switch recordType {
	case RecordTypeGateRecord:
		return PriorityHigh
	case RecordTypeGatedLog, RecordTypeComplianceEvent:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Status of a sync item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusApplied  Status = "applied"
	StatusConflict Status = "conflict"
	StatusFailed   Status = "failed"
)

// Item is one queued change. ID is assigned by the device, so re-sending a
// batch after a dropped connection cannot duplicate work.
type Item struct {
	ID            id.SyncItemID
	DeviceID      id.DeviceID
	ProjectID     id.ProjectID
	RecordType    string
	RecordID      string
	Payload       json.RawMessage
	Priority      Priority
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CapturedAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewItem validates and constructs a pending item.
func NewItem(itemID id.SyncItemID, deviceID id.DeviceID, projectID id.ProjectID, recordType, recordID string, payload json.RawMessage, priority Priority, capturedAt, now time.Time) (*Item, error) {
	if itemID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sync item id is required")
	}
	if deviceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "device id is required")
	}
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	switch recordType {
	case RecordTypeGateRecord, RecordTypeGatedLog, RecordTypeEvidence,
		RecordTypeComplianceEvent, RecordTypeEnvCapture:
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown record type %q", recordType)
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sync payload is required")
	}
	if capturedAt.IsZero() {
		capturedAt = now
	}
	return &Item{
		ID:            itemID,
		DeviceID:      deviceID,
		ProjectID:     projectID,
		RecordType:    recordType,
		RecordID:      recordID,
		Payload:       payload,
		Priority:      priority,
		Status:        StatusPending,
		NextAttemptAt: now,
		CapturedAt:    capturedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ConflictError signals that an item lost a last-writer-wins comparison or
// violated a server-side invariant. The discarded payload is preserved in the
// audit trail, never silently dropped.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict: %s", e.Reason)
}
