// ABOUTME: Tests for the version store and semantic versioning
// ABOUTME: Verifies gapless numbering, parent validation and immutable content

package version

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/storage"
)

func setupTestStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "versions.db"), storage.Options{NoSync: true})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(), db
}

func newVersion(doc string, n uint64, parent string) *Version {
	now := time.Now().UTC()
	return &Version{
		ID:              fmt.Sprintf("%s-v%d", doc, n),
		DocumentID:      doc,
		DocumentType:    "contract",
		VersionNumber:   n,
		ParentVersionID: parent,
		BranchName:      MainBranch,
		Checksum:        fmt.Sprintf("sum%d", n),
		StorageKey:      fmt.Sprintf("key%d", n),
		Status:          StatusActive,
		CreatedBy:       "user1",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func create(t *testing.T, s *Store, db *storage.DB, v *Version) {
	t.Helper()
	if err := db.Update(func(tx *storage.Tx) error { return s.Create(tx, v) }); err != nil {
		t.Fatalf("Failed to create %s: %v", v.ID, err)
	}
}

func TestCreateAndGetVersion(t *testing.T) {
	s, db := setupTestStore(t)

	v := newVersion("doc1", 1, "")
	v.Tags = []string{"draft"}
	v.Metadata = map[string]string{"source": "import"}
	create(t, s, db, v)

	err := db.View(func(tx *storage.Tx) error {
		got, err := s.Get(tx, "doc1-v1")
		if err != nil {
			return err
		}
		if got.VersionNumber != 1 || got.DocumentID != "doc1" {
			t.Errorf("Unexpected version %+v", got)
		}
		if got.Metadata["source"] != "import" || len(got.Tags) != 1 {
			t.Errorf("Administrative fields lost: %+v", got)
		}

		byNum, err := s.GetByNumber(tx, "doc1", 1)
		if err != nil {
			return err
		}
		if byNum.ID != v.ID {
			t.Errorf("Expected %s, got %s", v.ID, byNum.ID)
		}

		doc, err := s.Document(tx, "doc1")
		if err != nil {
			return err
		}
		if doc.VersionCount != 1 || doc.Type != "contract" {
			t.Errorf("Unexpected document %+v", doc)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestGetMissingVersion(t *testing.T) {
	s, db := setupTestStore(t)

	err := db.View(func(tx *storage.Tx) error {
		_, err := s.Get(tx, "nope")
		return err
	})
	if !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Expected ErrVersionNotFound, got %v", err)
	}
}

func TestNumbersMustBeGapless(t *testing.T) {
	s, db := setupTestStore(t)
	create(t, s, db, newVersion("doc1", 1, ""))

	err := db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, newVersion("doc1", 3, "doc1-v1"))
	})
	if !errors.Is(err, ErrSequenceViolation) {
		t.Errorf("Expected ErrSequenceViolation for gap, got %v", err)
	}

	dup := newVersion("doc1", 1, "")
	dup.ID = "other"
	err = db.Update(func(tx *storage.Tx) error { return s.Create(tx, dup) })
	if !errors.Is(err, ErrSequenceViolation) {
		t.Errorf("Expected ErrSequenceViolation for reused number, got %v", err)
	}

	err = db.View(func(tx *storage.Tx) error {
		next, err := s.NextNumber(tx, "doc1")
		if err != nil {
			return err
		}
		if next != 2 {
			t.Errorf("Expected next number 2, got %d", next)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestNumbersArePerDocument(t *testing.T) {
	s, db := setupTestStore(t)
	create(t, s, db, newVersion("doc1", 1, ""))
	create(t, s, db, newVersion("doc10", 1, ""))
	create(t, s, db, newVersion("doc1", 2, "doc1-v1"))

	err := db.View(func(tx *storage.Tx) error {
		list, err := s.List(tx, "doc1", Filter{})
		if err != nil {
			return err
		}
		if len(list) != 2 {
			t.Errorf("Expected 2 versions of doc1, got %d", len(list))
		}

		docs, err := s.Documents(tx)
		if err != nil {
			return err
		}
		if len(docs) != 2 {
			t.Errorf("Expected 2 documents, got %d", len(docs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestParentValidation(t *testing.T) {
	s, db := setupTestStore(t)
	create(t, s, db, newVersion("doc1", 1, ""))
	create(t, s, db, newVersion("doc2", 1, ""))

	err := db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, newVersion("doc1", 2, "missing"))
	})
	if !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Expected ErrVersionNotFound for missing parent, got %v", err)
	}

	err = db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, newVersion("doc1", 2, "doc2-v1"))
	})
	if !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Expected ErrVersionNotFound for foreign parent, got %v", err)
	}

	// Merge sources must also point backwards
	v := newVersion("doc1", 2, "doc1-v1")
	v.MergeInfo = &MergeInfo{SourceVersionIDs: []string{"doc1-v1"}}
	create(t, s, db, v)

	v3 := newVersion("doc1", 3, "doc1-v2")
	v3.MergeInfo = &MergeInfo{SourceVersionIDs: []string{"doc1-v2"}}
	create(t, s, db, v3)

	err = db.View(func(tx *storage.Tx) error {
		stored, err := s.Get(tx, "doc1-v3")
		if err != nil {
			return err
		}
		stored.VersionNumber = 1
		return s.checkEdge(tx, stored, "doc1-v2")
	})
	if !errors.Is(err, ErrCircularDependency) {
		t.Errorf("Expected ErrCircularDependency, got %v", err)
	}
}

func TestFailedCreateLeavesStoreUnchanged(t *testing.T) {
	s, db := setupTestStore(t)
	create(t, s, db, newVersion("doc1", 1, ""))

	err := db.Update(func(tx *storage.Tx) error {
		if err := s.Create(tx, newVersion("doc1", 2, "doc1-v1")); err != nil {
			return err
		}
		return errors.New("blob write failed")
	})
	if err == nil {
		t.Fatal("Expected error")
	}

	err = db.View(func(tx *storage.Tx) error {
		if _, err := s.Get(tx, "doc1-v2"); !errors.Is(err, ErrVersionNotFound) {
			t.Errorf("Rolled back version is visible: %v", err)
		}
		next, err := s.NextNumber(tx, "doc1")
		if err != nil {
			return err
		}
		if next != 2 {
			t.Errorf("Rolled back write consumed a number, next is %d", next)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s, db := setupTestStore(t)

	create(t, s, db, newVersion("doc1", 1, ""))
	v2 := newVersion("doc1", 2, "doc1-v1")
	v2.BranchName = "feature"
	create(t, s, db, v2)
	v3 := newVersion("doc1", 3, "doc1-v1")
	v3.Status = StatusDeleted
	create(t, s, db, v3)
	create(t, s, db, newVersion("doc1", 4, "doc1-v1"))

	err := db.View(func(tx *storage.Tx) error {
		list, err := s.List(tx, "doc1", Filter{})
		if err != nil {
			return err
		}
		if len(list) != 3 || list[0].VersionNumber != 4 || list[2].VersionNumber != 1 {
			t.Errorf("Expected newest-first without deleted, got %d entries", len(list))
		}

		asc, err := s.List(tx, "doc1", Filter{Ascending: true, IncludeDeleted: true, Limit: 3})
		if err != nil {
			return err
		}
		if len(asc) != 3 || asc[0].VersionNumber != 1 || asc[2].VersionNumber != 3 {
			t.Errorf("Unexpected ascending listing")
		}

		feature, err := s.List(tx, "doc1", Filter{Branch: "feature"})
		if err != nil {
			return err
		}
		if len(feature) != 1 || feature[0].ID != "doc1-v2" {
			t.Errorf("Expected only the feature version")
		}

		deleted, err := s.List(tx, "doc1", Filter{Statuses: []Status{StatusDeleted}})
		if err != nil {
			return err
		}
		if len(deleted) != 1 || deleted[0].ID != "doc1-v3" {
			t.Errorf("Expected only the deleted version")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestUpdateKeepsContentImmutable(t *testing.T) {
	s, db := setupTestStore(t)
	create(t, s, db, newVersion("doc1", 1, ""))

	err := db.Update(func(tx *storage.Tx) error {
		v, err := s.Get(tx, "doc1-v1")
		if err != nil {
			return err
		}
		Patch{Description: ptr("reviewed"), Approve: true}.Apply(v, "manager", time.Now())
		return s.Update(tx, v)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = db.Update(func(tx *storage.Tx) error {
		v, err := s.Get(tx, "doc1-v1")
		if err != nil {
			return err
		}
		if v.Description != "reviewed" || !v.IsApproved() || v.ApprovedBy != "manager" {
			t.Errorf("Patch not persisted: %+v", v)
		}
		v.Checksum = "tampered"
		return s.Update(tx, v)
	})
	if !errors.Is(err, ErrContentImmutable) {
		t.Errorf("Expected ErrContentImmutable, got %v", err)
	}
}

func TestUpdateDeletedVersion(t *testing.T) {
	s, db := setupTestStore(t)
	v := newVersion("doc1", 1, "")
	v.Status = StatusDeleted
	create(t, s, db, v)

	err := db.Update(func(tx *storage.Tx) error {
		got, err := s.Get(tx, v.ID)
		if err != nil {
			return err
		}
		got.Description = "revived"
		return s.Update(tx, got)
	})
	if !errors.Is(err, ErrVersionDeleted) {
		t.Errorf("Expected ErrVersionDeleted, got %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	v := newVersion("doc1", 1, "")
	v.Status = StatusPendingApproval
	v.Metadata = map[string]string{"keep": "1", "drop": "2"}

	status := StatusDeprecated
	p := Patch{Tags: []string{"final"}, Metadata: map[string]string{"drop": "", "add": "3"}}
	if p.Empty() {
		t.Fatal("Patch should not be empty")
	}
	p.Apply(v, "user1", time.Now())

	if v.Metadata["keep"] != "1" || v.Metadata["add"] != "3" {
		t.Errorf("Unexpected metadata %v", v.Metadata)
	}
	if _, ok := v.Metadata["drop"]; ok {
		t.Error("Empty value should remove the key")
	}

	Patch{Approve: true}.Apply(v, "approver", time.Now())
	if v.Status != StatusActive {
		t.Errorf("Approval should activate a pending version, got %s", v.Status)
	}

	Patch{Status: &status}.Apply(v, "user1", time.Now())
	if v.Status != StatusDeprecated {
		t.Errorf("Expected deprecated, got %s", v.Status)
	}

	if !(Patch{}).Empty() {
		t.Error("Zero patch should be empty")
	}
}

func TestDerive(t *testing.T) {
	parent := SemVer{Major: 1, Minor: 2, Patch: 3}

	tests := []struct {
		name    string
		parent  *SemVer
		changes []change.Change
		want    string
	}{
		{"no parent", nil, []change.Change{{Category: change.CategoryCritical}}, "1.0.0"},
		{"critical", &parent, []change.Change{{Category: change.CategoryMinor}, {Category: change.CategoryCritical}}, "2.0.0"},
		{"major", &parent, []change.Change{{Category: change.CategoryMajor}, {Category: change.CategoryCosmetic}}, "1.3.0"},
		{"minor", &parent, []change.Change{{Category: change.CategoryMinor}}, "1.2.4"},
		{"no changes", &parent, nil, "1.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.parent, tt.changes)
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if again := Derive(tt.parent, tt.changes); again != got {
				t.Errorf("Derive is not deterministic: %s vs %s", got, again)
			}
		})
	}
}

func TestParseSemVer(t *testing.T) {
	v, err := ParseSemVer("v2.10.1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v != (SemVer{Major: 2, Minor: 10, Patch: 1}) {
		t.Errorf("Unexpected %+v", v)
	}

	for _, bad := range []string{"", "1.2", "1.2.3-rc", "a.b.c"} {
		if _, err := ParseSemVer(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func ptr[T any](v T) *T { return &v }
