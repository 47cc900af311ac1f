// Package common defines sentinel errors shared by the API services and the
// field sync agent. Callers should match them with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Request-level errors.
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")
)
