// ABOUTME: Outbound notifications emitted after engine operations commit
// ABOUTME: Notifiers are injected; the engine never holds subscriber state itself

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type names an event
type Type string

const (
	VersionCreated      Type = "version.created"
	VersionUpdated      Type = "version.updated"
	VersionDeleted      Type = "version.deleted"
	VersionArchived     Type = "version.archived"
	BranchCreated       Type = "branch.created"
	BranchMerged        Type = "branch.merged"
	BranchAbandoned     Type = "branch.abandoned"
	DocumentLocked      Type = "document.locked"
	DocumentUnlocked    Type = "document.unlocked"
	LockExpired         Type = "lock.expired"
	ComparisonCompleted Type = "comparison.completed"
)

// Event is one notification
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	At         time.Time `json:"at"`
	Payload    any       `json:"payload,omitempty"`
}

// NewEvent stamps a new event with an id and the current time
func NewEvent(typ Type, documentID, actor string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		DocumentID: documentID,
		Actor:      actor,
		At:         time.Now().UTC(),
		Payload:    payload,
	}
}

// Notifier receives events after the operation that produced them committed
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, e Event) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Nop discards every event
var Nop Notifier = NotifierFunc(func(context.Context, Event) error { return nil })

// Fanout delivers each event to every notifier, continuing past failures
type Fanout []Notifier

// Notify implements Notifier
func (f Fanout) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
