// Package journal keeps an append-only, checksummed audit log of engine events
package journal

import "errors"

var (
	// ErrCorrupted indicates a record whose checksum does not match
	ErrCorrupted = errors.New("journal: corrupted record")

	// ErrTruncated indicates a record cut short, usually by a crash mid-write
	ErrTruncated = errors.New("journal: truncated record")

	// ErrClosed indicates a write to a closed journal
	ErrClosed = errors.New("journal: closed")
)
