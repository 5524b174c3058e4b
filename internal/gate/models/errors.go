package models

import (
	"fmt"
	"strings"
)

// Precondition names a specific unmet verification requirement. Callers get
// the full list so field workers see exactly what is missing instead of
// retrying blind.
type Precondition string

const (
	PreconditionIncompleteChecklist Precondition = "incomplete_checklist"
	PreconditionMissingSignature    Precondition = "missing_signature"
	PreconditionOutOfGeofence       Precondition = "out_of_geofence"
)

// VerificationError reports every unmet precondition of a verify attempt.
type VerificationError struct {
	Missing      []Precondition
	MissingItems []string // checklist item keys, when the checklist is incomplete
}

func (e *VerificationError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		parts = append(parts, string(p))
	}
	return "verification preconditions not met: " + strings.Join(parts, ", ")
}

// Has reports whether a specific precondition failed.
func (e *VerificationError) Has(p Precondition) bool {
	for _, missing := range e.Missing {
		if missing == p {
			return true
		}
	}
	return false
}

// GateBlockedError is returned when a GatedLog is attempted without a Verified
// GateRecord for the same key.
type GateBlockedError struct {
	Key    Key
	Reason string
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("gate blocked for %s/%s on %s: %s",
		e.Key.ProjectID, e.Key.WorkUnitID, e.Key.Date, e.Reason)
}
