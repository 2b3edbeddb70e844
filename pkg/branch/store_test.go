package branch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "branches.db"), storage.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ver(id string, n uint64) *version.Version {
	return &version.Version{ID: id, DocumentID: "doc1", VersionNumber: n, Status: version.StatusActive}
}

func TestCreateAndLookup(t *testing.T) {
	db := openDB(t)
	s := NewStore()

	err := db.Update(func(tx *storage.Tx) error {
		if err := s.Create(tx, &Branch{ID: "b1", Name: "main", DocumentID: "doc1", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return s.Create(tx, &Branch{ID: "b2", Name: "feature", DocumentID: "doc1", BaseVersionID: "v1"})
	})
	require.NoError(t, err)

	err = db.View(func(tx *storage.Tx) error {
		b, err := s.GetByName(tx, "doc1", "feature")
		require.NoError(t, err)
		assert.Equal(t, "b2", b.ID)
		assert.Equal(t, StatusActive, b.Status)

		list, err := s.List(tx, "doc1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "feature", list[0].Name)
		assert.Equal(t, "main", list[1].Name)

		_, err = s.GetByName(tx, "doc2", "main")
		assert.ErrorIs(t, err, ErrBranchNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateDuplicateName(t *testing.T) {
	db := openDB(t)
	s := NewStore()

	require.NoError(t, db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, &Branch{ID: "b1", Name: "main", DocumentID: "doc1"})
	}))

	err := db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, &Branch{ID: "b2", Name: "main", DocumentID: "doc1"})
	})
	assert.ErrorIs(t, err, ErrBranchExists)

	err = db.Update(func(tx *storage.Tx) error {
		return s.Create(tx, &Branch{ID: "b3", Name: "has space", DocumentID: "doc1"})
	})
	assert.ErrorIs(t, err, ErrInvalidBranch)
}

func TestUpdateHead(t *testing.T) {
	db := openDB(t)
	s := NewStore()

	err := db.Update(func(tx *storage.Tx) error {
		b := &Branch{ID: "b1", Name: "main", DocumentID: "doc1"}
		require.NoError(t, s.Create(tx, b))
		require.NoError(t, s.UpdateHead(tx, b, ver("v1", 1)))
		require.NoError(t, s.UpdateHead(tx, b, ver("v3", 3)))

		err := s.UpdateHead(tx, b, ver("v2", 2))
		assert.ErrorIs(t, err, version.ErrSequenceViolation)

		deleted := ver("v4", 4)
		deleted.Status = version.StatusDeleted
		assert.ErrorIs(t, s.UpdateHead(tx, b, deleted), version.ErrVersionDeleted)

		// Moving back to a version already on the branch
		require.NoError(t, s.UpdateHead(tx, b, ver("v1", 1)))
		return nil
	})
	require.NoError(t, err)

	err = db.View(func(tx *storage.Tx) error {
		b, err := s.Get(tx, "b1")
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v3"}, b.Versions)
		assert.Equal(t, "v1", b.HeadVersionID)

		heads, err := s.Heads(tx, "doc1")
		require.NoError(t, err)
		assert.True(t, heads["v1"])
		return nil
	})
	require.NoError(t, err)
}

func TestCloseBranch(t *testing.T) {
	db := openDB(t)
	s := NewStore()

	err := db.Update(func(tx *storage.Tx) error {
		b := &Branch{ID: "b1", Name: "feature", DocumentID: "doc1"}
		require.NoError(t, s.Create(tx, b))
		require.NoError(t, s.Close(tx, b, StatusMerged, "main"))

		assert.ErrorIs(t, s.Close(tx, b, StatusAbandoned, ""), ErrBranchClosed)
		assert.ErrorIs(t, s.UpdateHead(tx, b, ver("v2", 2)), ErrBranchClosed)
		return nil
	})
	require.NoError(t, err)

	err = db.View(func(tx *storage.Tx) error {
		b, err := s.Get(tx, "b1")
		require.NoError(t, err)
		assert.True(t, b.Closed())
		assert.Equal(t, "main", b.MergedInto)
		return nil
	})
	require.NoError(t, err)
}

func TestMergePolicyAllows(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.Allows(merge.StrategyManual))
	assert.False(t, p.Allows("rebase"))

	p.AllowedStrategies = []merge.Strategy{merge.StrategyOurs}
	assert.True(t, p.Allows(merge.StrategyOurs))
	assert.False(t, p.Allows(merge.StrategyTheirs))
}
