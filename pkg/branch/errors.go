package branch

import "errors"

var (
	// ErrBranchNotFound indicates no branch matches the id or name
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchExists indicates the document already has a branch with that name
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchProtected indicates a direct write to a protected branch
	ErrBranchProtected = errors.New("branch is protected")

	// ErrBranchClosed indicates a write to a merged or abandoned branch
	ErrBranchClosed = errors.New("branch is closed")

	// ErrInvalidBranch indicates a malformed branch name or record
	ErrInvalidBranch = errors.New("invalid branch")

	// ErrStrategyNotAllowed indicates the target branch policy forbids the merge strategy
	ErrStrategyNotAllowed = errors.New("merge strategy not allowed by branch policy")
)
