package blob

import "errors"

var (
	// ErrNotFound indicates no blob is stored under the key
	ErrNotFound = errors.New("blob not found")

	// ErrStorageFailure indicates the backend could not complete the request
	ErrStorageFailure = errors.New("blob storage failure")
)
