package storage

import "errors"

var (
	// ErrBucketMissing indicates the database was opened without its schema
	ErrBucketMissing = errors.New("storage: bucket missing")

	// ErrCorruptRecord indicates a stored record failed to decode
	ErrCorruptRecord = errors.New("storage: corrupt record")
)
