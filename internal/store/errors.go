package store

import "errors"

var (
	// ErrConflict covers unique and exclusion violations on slots and appointments.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict means a booking key was replayed with different input.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrStaleChannel is returned when a sync state write targets a channel that was replaced.
	ErrStaleChannel = errors.New("stale channel")
)
