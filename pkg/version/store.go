// ABOUTME: Version store over the transactional KV
// ABOUTME: Keeps the (document, number) index gapless and validates the parent graph on every write

package version

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nainya/docrev/pkg/storage"
)

// Store manages version records and the document registry.
// Every method runs inside a caller-supplied transaction so a single
// engine operation can span versions, branches and locks atomically.
type Store struct{}

// NewStore creates a new version store
func NewStore() *Store {
	return &Store{}
}

func versionKey(id string) []byte {
	return storage.Key(storage.String(id))
}

func indexKey(documentID string, number uint64) []byte {
	return storage.Key(storage.String(documentID), storage.Uint64(number))
}

func documentPrefix(documentID string) []byte {
	return storage.Key(storage.String(documentID))
}

// LastNumber returns the highest number allocated for the document, zero if none
func (s *Store) LastNumber(tx *storage.Tx, documentID string) (uint64, error) {
	var last uint64
	if _, err := tx.GetJSON(storage.BucketSequences, documentPrefix(documentID), &last); err != nil {
		return 0, err
	}
	return last, nil
}

// NextNumber returns the number the next version of the document must carry.
// The number is only consumed when Create commits in the same transaction.
func (s *Store) NextNumber(tx *storage.Tx, documentID string) (uint64, error) {
	last, err := s.LastNumber(tx, documentID)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// Create validates and writes a new version, advancing the document sequence
func (s *Store) Create(tx *storage.Tx, v *Version) error {
	if v.ID == "" || v.DocumentID == "" || v.BranchName == "" {
		return fmt.Errorf("%w: id, document and branch are required", ErrInvalidVersion)
	}
	if !v.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidVersion, v.Status)
	}

	if _, ok := tx.Get(storage.BucketVersions, versionKey(v.ID)); ok {
		return fmt.Errorf("%w: id %s already used", ErrSequenceViolation, v.ID)
	}

	next, err := s.NextNumber(tx, v.DocumentID)
	if err != nil {
		return err
	}
	if v.VersionNumber != next {
		return fmt.Errorf("%w: document %s expects %d, got %d", ErrSequenceViolation, v.DocumentID, next, v.VersionNumber)
	}
	if _, ok := tx.Get(storage.BucketVersionIndex, indexKey(v.DocumentID, v.VersionNumber)); ok {
		return fmt.Errorf("%w: number %d of %s already indexed", ErrSequenceViolation, v.VersionNumber, v.DocumentID)
	}

	if v.ParentVersionID != "" {
		if err := s.checkEdge(tx, v, v.ParentVersionID); err != nil {
			return err
		}
	}
	if v.MergeInfo != nil {
		for _, id := range v.MergeInfo.SourceVersionIDs {
			if err := s.checkEdge(tx, v, id); err != nil {
				return err
			}
		}
	}

	if err := tx.PutJSON(storage.BucketVersions, versionKey(v.ID), v); err != nil {
		return err
	}
	if err := tx.Put(storage.BucketVersionIndex, indexKey(v.DocumentID, v.VersionNumber), []byte(v.ID)); err != nil {
		return err
	}
	if err := tx.PutJSON(storage.BucketSequences, documentPrefix(v.DocumentID), v.VersionNumber); err != nil {
		return err
	}

	return s.register(tx, v)
}

// checkEdge requires an ancestor edge to point at an older version of the same document
func (s *Store) checkEdge(tx *storage.Tx, v *Version, ancestorID string) error {
	anc, err := s.Get(tx, ancestorID)
	if err != nil {
		return fmt.Errorf("ancestor %s of %s: %w", ancestorID, v.ID, err)
	}
	if anc.DocumentID != v.DocumentID {
		return fmt.Errorf("ancestor %s belongs to %s, not %s: %w", ancestorID, anc.DocumentID, v.DocumentID, ErrVersionNotFound)
	}
	if anc.VersionNumber >= v.VersionNumber {
		return fmt.Errorf("%w: %s (#%d) cannot descend from %s (#%d)",
			ErrCircularDependency, v.ID, v.VersionNumber, anc.ID, anc.VersionNumber)
	}
	return nil
}

func (s *Store) register(tx *storage.Tx, v *Version) error {
	var doc Document
	found, err := tx.GetJSON(storage.BucketDocuments, documentPrefix(v.DocumentID), &doc)
	if err != nil {
		return err
	}
	if !found {
		doc = Document{ID: v.DocumentID, Type: v.DocumentType, CreatedAt: v.CreatedAt}
	}
	if doc.Type == "" {
		doc.Type = v.DocumentType
	}
	doc.VersionCount = v.VersionNumber
	return tx.PutJSON(storage.BucketDocuments, documentPrefix(v.DocumentID), &doc)
}

// Get retrieves a version by id, including deleted ones
func (s *Store) Get(tx *storage.Tx, id string) (*Version, error) {
	var v Version
	found, err := tx.GetJSON(storage.BucketVersions, versionKey(id), &v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	return &v, nil
}

// GetByNumber retrieves a version through the (document, number) index
func (s *Store) GetByNumber(tx *storage.Tx, documentID string, number uint64) (*Version, error) {
	id, ok := tx.Get(storage.BucketVersionIndex, indexKey(documentID, number))
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrVersionNotFound, documentID, number)
	}
	return s.Get(tx, string(id))
}

// List returns the document's versions, newest first unless the filter says otherwise
func (s *Store) List(tx *storage.Tx, documentID string, f Filter) ([]*Version, error) {
	var ids []string
	err := tx.Scan(storage.BucketVersionIndex, documentPrefix(documentID), func(key, val []byte) bool {
		ids = append(ids, string(val))
		return true
	})
	if err != nil {
		return nil, err
	}

	if !f.Ascending {
		slices.Reverse(ids)
	}

	out := make([]*Version, 0, len(ids))
	for _, id := range ids {
		v, err := s.Get(tx, id)
		if err != nil {
			// The index only points at committed records
			return nil, fmt.Errorf("index of %s: %w", documentID, err)
		}
		if !f.match(v) {
			continue
		}
		out = append(out, v)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Update rewrites the administrative fields of a stored version.
// Deleted versions only accept the deletion marker they already carry.
func (s *Store) Update(tx *storage.Tx, v *Version) error {
	stored, err := s.Get(tx, v.ID)
	if err != nil {
		return err
	}
	if !sameContent(stored, v) {
		return fmt.Errorf("%w: %s", ErrContentImmutable, v.ID)
	}
	if stored.IsDeleted() {
		return fmt.Errorf("%w: %s", ErrVersionDeleted, v.ID)
	}
	if !v.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidVersion, v.Status)
	}
	return tx.PutJSON(storage.BucketVersions, versionKey(v.ID), v)
}

// Document returns the registry entry for a document
func (s *Store) Document(tx *storage.Tx, documentID string) (*Document, error) {
	var doc Document
	found, err := tx.GetJSON(storage.BucketDocuments, documentPrefix(documentID), &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no versions for document %s", ErrVersionNotFound, documentID)
	}
	return &doc, nil
}

// Documents lists every registered document
func (s *Store) Documents(tx *storage.Tx) ([]*Document, error) {
	var docs []*Document
	var decodeErr error
	err := tx.Scan(storage.BucketDocuments, nil, func(key, val []byte) bool {
		var doc Document
		if err := storage.DecodeJSON(val, &doc); err != nil {
			decodeErr = err
			return false
		}
		docs = append(docs, &doc)
		return true
	})
	return docs, errors.Join(err, decodeErr)
}

// Ancestors returns the direct ancestors of v: its parent and any merge sources
func Ancestors(v *Version) []string {
	var out []string
	if v.ParentVersionID != "" {
		out = append(out, v.ParentVersionID)
	}
	if v.MergeInfo != nil {
		out = append(out, v.MergeInfo.SourceVersionIDs...)
	}
	return out
}
