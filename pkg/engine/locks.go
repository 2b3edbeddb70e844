package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/storage"
)

// LockRequest asks for a lock on a document
type LockRequest struct {
	DocumentID   string
	Actor        string
	Type         lock.Type
	TTL          *time.Duration // nil never expires
	AllowedUsers []string
}

// LockDocument acquires or joins a lock, failing fast on a conflict. A lapsed
// lock still on record is expired first. A lock that is already expired when
// granted is swept before the call returns.
func (e *Engine) LockDocument(ctx context.Context, req LockRequest) (*lock.Lock, error) {
	defer e.enterDocument(req.DocumentID)()

	var granted, lapsed *lock.Lock
	var expired []*lock.Lock
	err := e.db.Update(func(tx *storage.Tx) error {
		var err error
		if lapsed, err = e.locks.Expire(tx, req.DocumentID, e.now()); err != nil {
			return err
		}
		granted, err = e.locks.Acquire(tx, lock.Request{
			DocumentID:   req.DocumentID,
			Holder:       req.Actor,
			Type:         req.Type,
			TTL:          req.TTL,
			AllowedUsers: req.AllowedUsers,
		})
		if err != nil {
			return err
		}
		if granted.Expired(e.now()) {
			expired, err = e.locks.SweepExpired(tx, e.now())
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if lapsed != nil {
		e.emitExpired(ctx, []*lock.Lock{lapsed})
	}
	e.emit(ctx, notify.DocumentLocked, req.DocumentID, req.Actor, granted)
	e.emitExpired(ctx, expired)
	return granted, nil
}

// UnlockDocument releases the actor's hold on a document. Managers may
// release any lock. It reports false when nothing was released.
func (e *Engine) UnlockDocument(ctx context.Context, documentID, actor string) (bool, error) {
	if documentID == "" || actor == "" {
		return false, fmt.Errorf("%w: document and actor are required", ErrInvalidRequest)
	}

	defer e.enterDocument(documentID)()

	force := e.perms.CanManage(actor, documentID)
	var released bool
	err := e.db.Update(func(tx *storage.Tx) error {
		var err error
		released, err = e.locks.Release(tx, documentID, actor, force)
		return err
	})
	if err != nil || !released {
		return false, err
	}

	e.emit(ctx, notify.DocumentUnlocked, documentID, actor, map[string]any{"forced": force})
	return true, nil
}

// GetLock returns the lock in force on a document, or nil
func (e *Engine) GetLock(ctx context.Context, documentID string) (*lock.Lock, error) {
	var l *lock.Lock
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		l, err = e.locks.Active(tx, documentID)
		return err
	})
	return l, err
}

// SweepLocks removes every expired lock and reports how many it removed
func (e *Engine) SweepLocks(ctx context.Context) (int, error) {
	var expired []*lock.Lock
	err := e.db.Update(func(tx *storage.Tx) error {
		var err error
		expired, err = e.locks.SweepExpired(tx, e.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	e.emitExpired(ctx, expired)
	return len(expired), nil
}

func (e *Engine) emitExpired(ctx context.Context, expired []*lock.Lock) {
	for _, l := range expired {
		e.log.Debug().Str("document_id", l.DocumentID).Str("holder", l.Holder).Msg("lock expired")
		e.emit(ctx, notify.LockExpired, l.DocumentID, l.Holder, l)
	}
}
