package version

import "errors"

var (
	// ErrVersionNotFound indicates no version has the requested id or number
	ErrVersionNotFound = errors.New("version not found")

	// ErrVersionDeleted indicates the version is in the terminal deleted state
	ErrVersionDeleted = errors.New("version is deleted")

	// ErrBaselineProtected indicates an attempt to delete or unflag a baseline
	ErrBaselineProtected = errors.New("baseline version is protected")

	// ErrCircularDependency indicates a parent edge that does not point strictly backwards.
	// It can only be produced by a corrupted graph and aborts the operation.
	ErrCircularDependency = errors.New("circular version dependency")

	// ErrSequenceViolation indicates a version number collision or gap
	ErrSequenceViolation = errors.New("version sequence violation")

	// ErrContentImmutable indicates an update touched a content field
	ErrContentImmutable = errors.New("version content is immutable")

	// ErrInvalidVersion indicates a version record is missing required fields
	ErrInvalidVersion = errors.New("invalid version")
)
