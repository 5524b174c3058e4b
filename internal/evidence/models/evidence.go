// Package models defines captured evidence: photos and documents hashed at
// the moment of capture. The original record is immutable; only annotations
// may be appended afterwards.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
)

// Kind classifies evidence.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
)

// Annotation is an append-only note attached after capture. Annotations never
// alter the captured payload or its hash.
type Annotation struct {
	Author    string    `json:"author"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Evidence is one captured artifact. Hash is the SHA-256 of the payload taken
// before any resizing or re-encoding, so later tampering anywhere in the
// pipeline is detectable. OutsideGeofence flags captures taken away from the
// site; capture is never blocked on location, only annotated.
type Evidence struct {
	ID              id.EvidenceID
	ProjectID       id.ProjectID
	WorkUnitID      id.WorkUnitID
	DeviceID        id.DeviceID
	Kind            Kind
	Filename        string
	ContentType     string
	SizeBytes       int64
	Hash            string
	CapturedAt      time.Time
	Location        geo.Point
	OutsideGeofence bool
	// Provenance holds the device's capture metadata (EXIF and the like)
	// exactly as submitted. It is kept verbatim and never parsed server-side.
	Provenance  []byte
	Annotations []Annotation
	Actor       string
	CreatedAt   time.Time
}

// HashPayload returns the lowercase hex SHA-256 of the raw payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NewEvidence validates and constructs an evidence record.
func NewEvidence(evidenceID id.EvidenceID, projectID id.ProjectID, workUnitID id.WorkUnitID, deviceID id.DeviceID, kind Kind, filename, contentType string, payload, provenance []byte, capturedAt time.Time, location geo.Point, outsideGeofence bool, actor string, now time.Time) (*Evidence, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	switch kind {
	case KindPhoto, KindDocument:
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown evidence kind %q", kind)
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "evidence payload is required")
	}
	if capturedAt.IsZero() {
		capturedAt = now
	}
	return &Evidence{
		ID:              evidenceID,
		ProjectID:       projectID,
		WorkUnitID:      workUnitID,
		DeviceID:        deviceID,
		Kind:            kind,
		Filename:        filename,
		ContentType:     contentType,
		SizeBytes:       int64(len(payload)),
		Hash:            HashPayload(payload),
		CapturedAt:      capturedAt,
		Location:        location,
		OutsideGeofence: outsideGeofence,
		Provenance:      provenance,
		Actor:           actor,
		CreatedAt:       now,
	}, nil
}

// Annotate appends a note. The capture itself is untouched.
func (e *Evidence) Annotate(author, note string, now time.Time) {
	e.Annotations = append(e.Annotations, Annotation{Author: author, Note: note, CreatedAt: now})
}

// Matches reports whether the payload still hashes to the recorded value.
func (e *Evidence) Matches(payload []byte) bool {
	return HashPayload(payload) == e.Hash
}
