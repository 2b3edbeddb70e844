package retention

import "errors"

var (
	// ErrInvalidPolicy indicates a policy or pattern that cannot be stored
	ErrInvalidPolicy = errors.New("invalid retention policy")

	// ErrPolicyNotFound indicates no policy matches the document type
	ErrPolicyNotFound = errors.New("retention policy not found")
)
