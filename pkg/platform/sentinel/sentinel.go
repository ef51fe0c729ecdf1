package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors.
//
//   - ErrNotFound: the record does not exist
//   - ErrConflict: the record changed since it was read (version mismatch)
//   - ErrAlreadyUsed: a unique key is taken
//   - ErrInvalidState: the record is in the wrong state for the write
//   - ErrUnavailable: the backend cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
