// ABOUTME: Branch store with a (document, name) index
// ABOUTME: UpdateHead is the only way a branch head moves

package branch

import (
	"fmt"
	"time"

	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// Store persists branches inside caller-supplied transactions
type Store struct{}

// NewStore creates a new branch store
func NewStore() *Store {
	return &Store{}
}

func branchKey(id string) []byte {
	return storage.Key(storage.String(id))
}

func nameKey(documentID, name string) []byte {
	return storage.Key(storage.String(documentID), storage.String(name))
}

// Create writes a new branch, failing if the name is taken in the document
func (s *Store) Create(tx *storage.Tx, b *Branch) error {
	if b.ID == "" || b.DocumentID == "" {
		return fmt.Errorf("%w: id and document are required", ErrInvalidBranch)
	}
	if err := ValidateName(b.Name); err != nil {
		return err
	}
	if _, ok := tx.Get(storage.BucketBranchIndex, nameKey(b.DocumentID, b.Name)); ok {
		return fmt.Errorf("%w: %s/%s", ErrBranchExists, b.DocumentID, b.Name)
	}
	if b.Status == "" {
		b.Status = StatusActive
	}

	if err := tx.PutJSON(storage.BucketBranches, branchKey(b.ID), b); err != nil {
		return err
	}
	return tx.Put(storage.BucketBranchIndex, nameKey(b.DocumentID, b.Name), []byte(b.ID))
}

// Get retrieves a branch by id
func (s *Store) Get(tx *storage.Tx, id string) (*Branch, error) {
	var b Branch
	found, err := tx.GetJSON(storage.BucketBranches, branchKey(id), &b)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, id)
	}
	return &b, nil
}

// GetByName retrieves a branch through the (document, name) index
func (s *Store) GetByName(tx *storage.Tx, documentID, name string) (*Branch, error) {
	id, ok := tx.Get(storage.BucketBranchIndex, nameKey(documentID, name))
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrBranchNotFound, documentID, name)
	}
	return s.Get(tx, string(id))
}

// List returns the document's branches ordered by name
func (s *Store) List(tx *storage.Tx, documentID string) ([]*Branch, error) {
	var ids []string
	err := tx.Scan(storage.BucketBranchIndex, storage.Key(storage.String(documentID)), func(key, val []byte) bool {
		ids = append(ids, string(val))
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Branch, 0, len(ids))
	for _, id := range ids {
		b, err := s.Get(tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Heads returns the head version ids of every branch of the document
func (s *Store) Heads(tx *storage.Tx, documentID string) (map[string]bool, error) {
	branches, err := s.List(tx, documentID)
	if err != nil {
		return nil, err
	}
	heads := make(map[string]bool, len(branches))
	for _, b := range branches {
		if b.HeadVersionID != "" {
			heads[b.HeadVersionID] = true
		}
	}
	return heads, nil
}

// UpdateHead points the branch at v. A version new to the branch is appended
// and must be numbered after the current head; a version already on the
// branch moves the head back to it.
func (s *Store) UpdateHead(tx *storage.Tx, b *Branch, v *version.Version) error {
	if b.Closed() {
		return fmt.Errorf("%w: %s is %s", ErrBranchClosed, b.Name, b.Status)
	}
	if v.DocumentID != b.DocumentID {
		return fmt.Errorf("%w: version %s is not in document %s", ErrInvalidBranch, v.ID, b.DocumentID)
	}
	if v.IsDeleted() {
		return fmt.Errorf("head of %s: %w", b.Name, version.ErrVersionDeleted)
	}

	if !b.Contains(v.ID) {
		if v.VersionNumber <= b.HeadNumber {
			return fmt.Errorf("%w: %s #%d is not after head #%d of %s",
				version.ErrSequenceViolation, v.ID, v.VersionNumber, b.HeadNumber, b.Name)
		}
		b.Versions = append(b.Versions, v.ID)
	}

	b.HeadVersionID = v.ID
	b.HeadNumber = v.VersionNumber
	b.UpdatedAt = time.Now().UTC()
	return s.save(tx, b)
}

// ClearHead empties the head pointer once no live version remains on the branch
func (s *Store) ClearHead(tx *storage.Tx, b *Branch) error {
	b.HeadVersionID = ""
	b.UpdatedAt = time.Now().UTC()
	return s.save(tx, b)
}

// Close moves an active branch to merged or abandoned
func (s *Store) Close(tx *storage.Tx, b *Branch, status Status, mergedInto string) error {
	if status != StatusMerged && status != StatusAbandoned {
		return fmt.Errorf("%w: cannot close with status %q", ErrInvalidBranch, status)
	}
	if b.Closed() {
		return fmt.Errorf("%w: %s is already %s", ErrBranchClosed, b.Name, b.Status)
	}
	b.Status = status
	b.MergedInto = mergedInto
	b.UpdatedAt = time.Now().UTC()
	return s.save(tx, b)
}

// SetProtected toggles branch protection
func (s *Store) SetProtected(tx *storage.Tx, b *Branch, protected bool) error {
	b.IsProtected = protected
	b.UpdatedAt = time.Now().UTC()
	return s.save(tx, b)
}

func (s *Store) save(tx *storage.Tx, b *Branch) error {
	if _, err := s.Get(tx, b.ID); err != nil {
		return err
	}
	return tx.PutJSON(storage.BucketBranches, branchKey(b.ID), b)
}
