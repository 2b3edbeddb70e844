package lock

import "errors"

var (
	// ErrLockConflict indicates an incompatible lock is held on the document
	ErrLockConflict = errors.New("lock conflict")

	// ErrInvalidLock indicates a malformed lock request
	ErrInvalidLock = errors.New("invalid lock request")
)
