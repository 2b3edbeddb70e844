package merge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnresolvedConflicts indicates a manual merge without exactly one resolution per conflict
	ErrUnresolvedConflicts = errors.New("unresolved merge conflicts")

	// ErrInvalidStrategy indicates an unknown merge strategy
	ErrInvalidStrategy = errors.New("invalid merge strategy")

	// ErrInvalidResolution indicates a resolution that cannot be applied
	ErrInvalidResolution = errors.New("invalid conflict resolution")

	// ErrInvalidTransition indicates a merge request state change that is not allowed
	ErrInvalidTransition = errors.New("invalid merge state transition")
)

// ConflictError is returned by an auto merge that met conflicts it cannot resolve.
// Conflicts holds every conflict detected, in document order.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		if !c.AutoResolvable {
			ids = append(ids, c.ID)
		}
	}
	return fmt.Sprintf("merge blocked by %d conflict(s), not auto-resolvable: %s",
		len(e.Conflicts), strings.Join(ids, ", "))
}
