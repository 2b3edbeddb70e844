package engine

import "errors"

var (
	// ErrPermissionDenied indicates the actor may not perform the operation
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidRequest indicates a malformed or contradictory request
	ErrInvalidRequest = errors.New("invalid request")
)
