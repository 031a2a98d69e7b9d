package campaign

import "errors"

var (
	// ErrNotFound means the campaign does not exist or is outside the caller's scope
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidInput means the request was rejected before any mutation
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned by optimistic stores when a concurrent write won
	ErrConflict = errors.New("write conflict")

	// ErrTransient means conflict retries were exhausted; the caller may retry later
	ErrTransient = errors.New("transient failure")

	// ErrUnavailable means the store or identity provider could not be reached
	ErrUnavailable = errors.New("backend unavailable")
)
