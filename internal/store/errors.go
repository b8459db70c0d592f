package store

import "errors"

var (
	// ErrNotFound is returned when a task, update, ledger entry or credit
	// record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a task save loses an optimistic
	// concurrency race. Callers are expected to re-read and retry.
	ErrVersionConflict = errors.New("task version conflict")
)
