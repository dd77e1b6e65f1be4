package services

import "errors"

var (
	// ErrInvalidInput is returned for missing or malformed request fields
	ErrInvalidInput = errors.New("invalid input")
	// ErrPairNotFound is returned when the pair document does not exist
	ErrPairNotFound = errors.New("pair not found")
	// ErrPairFull is returned when joining a pair that has no room left
	ErrPairFull = errors.New("pair is full")
	// ErrItemNotFound is returned when the addressed item is no longer in the list
	ErrItemNotFound = errors.New("item not found")
	// ErrUpstream wraps store and push provider failures
	ErrUpstream = errors.New("upstream unavailable")
	// ErrPreviewUnavailable is returned when a product preview cannot be produced
	ErrPreviewUnavailable = errors.New("preview unavailable")
	// ErrSessionNotAttached is returned by a session used before Attach
	ErrSessionNotAttached = errors.New("session not attached")
	// ErrSessionDetached is returned by a session after Close
	ErrSessionDetached = errors.New("session detached")
)
