package domain

import "errors"

var (
	// ErrValidation marks errors caused by malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for entities that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state transitions rejected by the current entity state.
	ErrConflict = errors.New("conflict")
)
