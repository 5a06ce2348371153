// Package errors defines the sentinel errors shared across the search
// core. Callers classify failures with errors.Is against these values;
// packages add context with fmt.Errorf and %w.
package errors

import "errors"

var (
	// ErrCorruptIndex marks a persisted index payload that failed
	// structural validation. The index manager self-heals from it by
	// starting empty; it is never surfaced to callers.
	ErrCorruptIndex = errors.New("corrupt index payload")

	// ErrMemoryNotFound is returned by the memory store when no row
	// matches the requested id.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrInvalidInput marks caller mistakes such as an empty document id.
	ErrInvalidInput = errors.New("invalid input")
)
