package merge

import (
	"fmt"
	"slices"
	"time"
)

// State is a step in the life of a merge request
type State string

const (
	StateRequested     State = "requested"
	StateConflictCheck State = "conflict_check"
	StateBlocked       State = "blocked"
	StateMerging       State = "merging"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var transitions = map[State][]State{
	StateRequested:     {StateConflictCheck, StateFailed},
	StateConflictCheck: {StateBlocked, StateMerging, StateFailed},
	StateBlocked:       {StateFailed},
	StateMerging:       {StateCompleted, StateFailed},
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Request tracks one merge through its states
type Request struct {
	ID           string
	SourceBranch string
	TargetBranch string
	Strategy     Strategy
	State        State
	Conflicts    []Conflict
	Err          error
	History      []StateChange
}

// StateChange records when a request entered a state
type StateChange struct {
	State State
	At    time.Time
}

// NewRequest starts a request in the requested state
func NewRequest(id, source, target string, strategy Strategy) *Request {
	return &Request{
		ID:           id,
		SourceBranch: source,
		TargetBranch: target,
		Strategy:     strategy,
		State:        StateRequested,
		History:      []StateChange{{State: StateRequested, At: time.Now()}},
	}
}

// Transition moves the request to the next state
func (r *Request) Transition(to State) error {
	if !slices.Contains(transitions[r.State], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	r.History = append(r.History, StateChange{State: to, At: time.Now()})
	return nil
}

// Fail moves the request to failed and records the cause.
// Failing a request that already finished leaves it unchanged.
func (r *Request) Fail(err error) {
	if r.State.Terminal() {
		return
	}
	r.Err = err
	_ = r.Transition(StateFailed)
}
