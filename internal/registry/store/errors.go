package store

import "fmt"

// NotFoundError indicates the record was not found. Direct lookups return
// this explicitly; it is never used as control flow for empty query results.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure, rejected
// before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates an optimistic-concurrency conflict: the record's
// version changed between read and write. Sweeps retry these internally.
type ConflictError struct {
	ID              string
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %s modified concurrently (expected version %d)", e.ID, e.ExpectedVersion)
}

// UnavailableError indicates a transient store failure. Callers retry with
// bounded exponential backoff before reporting the record in a failed-batch
// summary.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }
