package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyExists: unique key already taken (one gate record per key, one gated log per key)
// - ErrConflict: concurrent modification detected
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrImmutable: write attempted against a frozen field of an immutable record
// - ErrUnavailable: backing service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrImmutable     = errors.New("immutable")
	ErrUnavailable   = errors.New("unavailable")
)
