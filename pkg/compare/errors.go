package compare

import "errors"

var (
	// ErrNotFound indicates an unknown or evicted comparison id
	ErrNotFound = errors.New("compare: comparison not found")

	// ErrInvalidRequest indicates a comparison request missing a version
	ErrInvalidRequest = errors.New("compare: invalid request")

	// ErrClosed indicates the service no longer accepts requests
	ErrClosed = errors.New("compare: service closed")
)
