// Package models defines the gate aggregate: the daily safety verification
// record (GateRecord), the field report it unblocks (GatedLog), and the
// versioned checklist payloads exchanged with field devices.
package models

import (
	"time"

	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/geo"
)

// Status of a GateRecord. NotStarted -> InProgress -> Verified, with an
// orthogonal time-based transition to Expired for any non-Verified record once
// its date has passed. Expired is terminal; a new day requires a new Begin.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusVerified   Status = "verified"
	StatusExpired    Status = "expired"
)

// Key uniquely identifies a daily verification: at most one GateRecord and at
// most one GatedLog may exist per key.
type Key struct {
	ProjectID  id.ProjectID
	WorkUnitID id.WorkUnitID
	Date       id.Day
}

// GateRecord is the daily safety verification for one work unit.
type GateRecord struct {
	ID                  id.GateRecordID
	Key                 Key
	Status              Status
	Checklist           Checklist
	VerifierName        string
	Signature           string
	CrewAcknowledgments []string
	OnSiteVerified      bool
	VerifiedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// GatedLog is the daily field report. It cannot exist unless a Verified
// GateRecord exists for the identical key; that invariant is enforced
// transactionally by the store and backed by a unique constraint.
type GatedLog struct {
	ID           id.GatedLogID
	GateRecordID id.GateRecordID
	Key          Key
	Summary      string
	CrewCount    int
	Actor        string
	CreatedAt    time.Time
}

// NewGateRecord starts a verification in InProgress.
func NewGateRecord(recordID id.GateRecordID, key Key, schemaID string, now time.Time) *GateRecord {
	return &GateRecord{
		ID:        recordID,
		Key:       key,
		Status:    StatusInProgress,
		Checklist: Checklist{SchemaID: schemaID, Items: map[string]string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MergeChecklist overlays answers onto the record without changing state.
// Later submissions win per item; unrelated items are preserved.
func (g *GateRecord) MergeChecklist(incoming Checklist, now time.Time) {
	if incoming.SchemaID != "" {
		g.Checklist.SchemaID = incoming.SchemaID
	}
	if g.Checklist.Items == nil {
		g.Checklist.Items = map[string]string{}
	}
	for item, answer := range incoming.Items {
		g.Checklist.Items[item] = answer
	}
	g.UpdatedAt = now
}

// ApplyVerification transitions the record to Verified.
func (g *GateRecord) ApplyVerification(verifier, signature string, crewAcks []string, onSite bool, now time.Time) {
	g.Status = StatusVerified
	g.VerifierName = verifier
	g.Signature = signature
	g.CrewAcknowledgments = append([]string{}, crewAcks...)
	g.OnSiteVerified = onSite
	verifiedAt := now
	g.VerifiedAt = &verifiedAt
	g.UpdatedAt = now
}

// Expire marks a never-verified record expired.
func (g *GateRecord) Expire(now time.Time) {
	g.Status = StatusExpired
	g.UpdatedAt = now
}

// VerifyInput is everything a device submits to close out the gate.
type VerifyInput struct {
	VerifierName        string
	Signature           string
	CrewAcknowledgments []string
	DeviceLocation      geo.Point
}
