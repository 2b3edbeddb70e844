// ABOUTME: Document edit locks with expiry
// ABOUTME: One record per document; shared and read-only locks collect joined co-holders

package lock

import (
	"fmt"
	"slices"
	"time"

	"github.com/nainya/docrev/pkg/storage"
)

// Type is the kind of lock held on a document
type Type string

const (
	TypeExclusive Type = "exclusive" // Only the holder may write
	TypeShared    Type = "shared"    // Holder and allowed users may write
	TypeReadOnly  Type = "read_only" // Nobody may write
)

// Valid reports whether t is a known lock type
func (t Type) Valid() bool {
	return t == TypeExclusive || t == TypeShared || t == TypeReadOnly
}

// Lock is the lock record of a document. AllowedUsers may write under a
// shared lock without holding it; CoHolders joined through their own Acquire.
type Lock struct {
	DocumentID   string     `json:"document_id"`
	Type         Type       `json:"type"`
	Holder       string     `json:"holder"`
	CoHolders    []string   `json:"co_holders,omitempty"`
	AllowedUsers []string   `json:"allowed_users,omitempty"`
	AcquiredAt   time.Time  `json:"acquired_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock lapsed at or before now
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Holds reports whether actor is the holder or a co-holder
func (l *Lock) Holds(actor string) bool {
	return l.Holder == actor || slices.Contains(l.CoHolders, actor)
}

// Permits reports whether actor holds the lock or is on its allowed list
func (l *Lock) Permits(actor string) bool {
	return l.Holds(actor) || slices.Contains(l.AllowedUsers, actor)
}

// Request asks for a lock. A nil TTL never expires; a zero TTL is already expired.
type Request struct {
	DocumentID   string
	Holder       string
	Type         Type
	TTL          *time.Duration
	AllowedUsers []string
}

// Manager grants and releases locks inside caller-supplied transactions
type Manager struct {
	Now func() time.Time
}

// NewManager creates a lock manager using the wall clock
func NewManager() *Manager {
	return &Manager{Now: func() time.Time { return time.Now().UTC() }}
}

func lockKey(documentID string) []byte {
	return storage.Key(storage.String(documentID))
}

// Get returns the stored lock, expired or not, or nil when there is none
func (m *Manager) Get(tx *storage.Tx, documentID string) (*Lock, error) {
	var l Lock
	found, err := tx.GetJSON(storage.BucketLocks, lockKey(documentID), &l)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

// Active returns the lock in force, treating an expired lock as absent
func (m *Manager) Active(tx *storage.Tx, documentID string) (*Lock, error) {
	l, err := m.Get(tx, documentID)
	if err != nil || l == nil || l.Expired(m.Now()) {
		return nil, err
	}
	return l, nil
}

// Acquire grants the lock or fails fast with ErrLockConflict
func (m *Manager) Acquire(tx *storage.Tx, req Request) (*Lock, error) {
	if req.DocumentID == "" || req.Holder == "" {
		return nil, fmt.Errorf("%w: document and holder are required", ErrInvalidLock)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidLock, req.Type)
	}
	if req.TTL != nil && *req.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidLock)
	}

	now := m.Now()
	expires := expiry(now, req.TTL)

	cur, err := m.Active(tx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	switch {
	case cur == nil:
		cur = &Lock{
			DocumentID: req.DocumentID,
			Type:       req.Type,
			Holder:     req.Holder,
			AcquiredAt: now,
			ExpiresAt:  expires,
		}
		if req.Type != TypeExclusive {
			cur.AllowedUsers = addUsers(nil, req.Holder, req.AllowedUsers...)
		}

	case cur.Holds(req.Holder):
		switch {
		case req.Type == cur.Type:
		case cur.Holder == req.Holder && len(cur.CoHolders) == 0:
			// Sole holder may change the lock type
			cur.Type = req.Type
		default:
			return nil, fmt.Errorf("%w: %s holds a %s lock with co-holders on %s", ErrLockConflict, cur.Holder, cur.Type, req.DocumentID)
		}
		cur.ExpiresAt = expires
		if cur.Type == TypeExclusive {
			cur.AllowedUsers = nil
		} else {
			cur.AllowedUsers = addUsers(cur.AllowedUsers, cur.Holder, req.AllowedUsers...)
		}

	case cur.Type == TypeExclusive || req.Type == TypeExclusive:
		return nil, fmt.Errorf("%w: %s holds a %s lock on %s", ErrLockConflict, cur.Holder, cur.Type, req.DocumentID)

	default:
		// Shared and read-only locks combine; read-only wins
		if req.Type == TypeReadOnly {
			cur.Type = TypeReadOnly
		}
		cur.CoHolders = addUsers(cur.CoHolders, cur.Holder, req.Holder)
		cur.AllowedUsers = addUsers(cur.AllowedUsers, cur.Holder, req.AllowedUsers...)
		cur.ExpiresAt = later(cur.ExpiresAt, expires)
	}

	if err := tx.PutJSON(storage.BucketLocks, lockKey(req.DocumentID), cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Release drops holder from the document's lock. The record is deleted when
// forced or when the last holder leaves; a departing holder hands the lock to
// the first co-holder. Allowed users hold nothing and cannot release.
// It reports false when there is no lock in force or holder does not hold it
// and force is not set.
func (m *Manager) Release(tx *storage.Tx, documentID, holder string, force bool) (bool, error) {
	cur, err := m.Active(tx, documentID)
	if err != nil || cur == nil {
		return false, err
	}

	switch {
	case force, cur.Holder == holder && len(cur.CoHolders) == 0:
		return true, tx.Del(storage.BucketLocks, lockKey(documentID))
	case cur.Holder == holder:
		cur.Holder = cur.CoHolders[0]
		cur.CoHolders = cur.CoHolders[1:]
	case slices.Contains(cur.CoHolders, holder):
		cur.CoHolders = slices.DeleteFunc(cur.CoHolders, func(u string) bool { return u == holder })
	default:
		return false, nil
	}

	if len(cur.CoHolders) == 0 {
		cur.CoHolders = nil
	}
	return true, tx.PutJSON(storage.BucketLocks, lockKey(documentID), cur)
}

// Expire removes the document's lock when it lapsed at or before now and
// returns it, or nil when there was nothing to remove
func (m *Manager) Expire(tx *storage.Tx, documentID string, now time.Time) (*Lock, error) {
	l, err := m.Get(tx, documentID)
	if err != nil || l == nil || !l.Expired(now) {
		return nil, err
	}
	return l, tx.Del(storage.BucketLocks, lockKey(documentID))
}

// SweepExpired removes every lock that lapsed at or before now
func (m *Manager) SweepExpired(tx *storage.Tx, now time.Time) ([]*Lock, error) {
	var expired []*Lock
	var decodeErr error
	err := tx.Scan(storage.BucketLocks, nil, func(key, val []byte) bool {
		var l Lock
		if err := storage.DecodeJSON(val, &l); err != nil {
			decodeErr = err
			return false
		}
		if l.Expired(now) {
			expired = append(expired, &l)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	for _, l := range expired {
		if err := tx.Del(storage.BucketLocks, lockKey(l.DocumentID)); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// CheckWrite reports whether actor may write under the lock in force.
// A nil lock permits everyone.
func CheckWrite(l *Lock, actor string) error {
	if l == nil {
		return nil
	}
	switch l.Type {
	case TypeExclusive:
		if l.Holder == actor {
			return nil
		}
	case TypeShared:
		if l.Permits(actor) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lock on %s held by %s", ErrLockConflict, l.Type, l.DocumentID, l.Holder)
}

func expiry(now time.Time, ttl *time.Duration) *time.Time {
	if ttl == nil {
		return nil
	}
	t := now.Add(*ttl)
	return &t
}

// later returns the later expiry, where nil means never
func later(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if a.After(*b) {
		return a
	}
	return b
}

func addUsers(users []string, holder string, add ...string) []string {
	for _, u := range add {
		if u == "" || u == holder || slices.Contains(users, u) {
			continue
		}
		users = append(users, u)
	}
	return users
}
