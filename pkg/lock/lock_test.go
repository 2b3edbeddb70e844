package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docrev/pkg/storage"
)

type fixture struct {
	db  *storage.DB
	m   *Manager
	now time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "locks.db"), storage.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	f.m = &Manager{Now: func() time.Time { return f.now }}
	return f
}

func (f *fixture) acquire(doc, holder string, typ Type, ttl *time.Duration, allowed ...string) (*Lock, error) {
	var l *Lock
	err := f.db.Update(func(tx *storage.Tx) error {
		var err error
		l, err = f.m.Acquire(tx, Request{DocumentID: doc, Holder: holder, Type: typ, TTL: ttl, AllowedUsers: allowed})
		return err
	})
	return l, err
}

func (f *fixture) release(doc, holder string, force bool) bool {
	var ok bool
	_ = f.db.Update(func(tx *storage.Tx) error {
		var err error
		ok, err = f.m.Release(tx, doc, holder, force)
		return err
	})
	return ok
}

func (f *fixture) active(t *testing.T, doc string) *Lock {
	t.Helper()
	var l *Lock
	require.NoError(t, f.db.View(func(tx *storage.Tx) error {
		var err error
		l, err = f.m.Active(tx, doc)
		return err
	}))
	return l
}

func ttl(d time.Duration) *time.Duration { return &d }

func TestExclusiveConflictsWithAnyLock(t *testing.T) {
	for _, held := range []Type{TypeExclusive, TypeShared, TypeReadOnly} {
		t.Run(string(held), func(t *testing.T) {
			f := setup(t)
			_, err := f.acquire("doc1", "u1", held, nil)
			require.NoError(t, err)

			_, err = f.acquire("doc1", "u2", TypeExclusive, nil)
			assert.ErrorIs(t, err, ErrLockConflict)

			// Releasing the only lock permits any acquisition
			require.True(t, f.release("doc1", "u1", false))
			_, err = f.acquire("doc1", "u2", TypeExclusive, nil)
			assert.NoError(t, err)
		})
	}
}

func TestSharedLocksCombine(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "u1", TypeShared, nil, "u3")
	require.NoError(t, err)
	l, err := f.acquire("doc1", "u2", TypeShared, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", l.Holder)
	assert.Equal(t, []string{"u2"}, l.CoHolders)
	assert.Equal(t, []string{"u3"}, l.AllowedUsers)

	assert.NoError(t, CheckWrite(l, "u2"))
	assert.NoError(t, CheckWrite(l, "u3"), "allowed users write without holding")
	assert.ErrorIs(t, CheckWrite(l, "u4"), ErrLockConflict)

	// Read-only joins and blocks every writer
	l, err = f.acquire("doc1", "u4", TypeReadOnly, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeReadOnly, l.Type)
	assert.ErrorIs(t, CheckWrite(l, "u1"), ErrLockConflict)
}

func TestReleaseRules(t *testing.T) {
	f := setup(t)

	assert.False(t, f.release("doc1", "u1", false), "no lock")

	_, err := f.acquire("doc1", "u1", TypeShared, nil, "u2")
	require.NoError(t, err)
	_, err = f.acquire("doc1", "u3", TypeShared, nil)
	require.NoError(t, err)
	_, err = f.acquire("doc1", "u4", TypeShared, nil)
	require.NoError(t, err)

	assert.False(t, f.release("doc1", "u9", false), "not a holder")
	assert.False(t, f.release("doc1", "u2", false), "allowed users hold nothing")
	assert.True(t, f.release("doc1", "u1", false))

	l := f.active(t, "doc1")
	require.NotNil(t, l)
	assert.Equal(t, "u3", l.Holder, "first co-holder takes over")
	assert.Equal(t, []string{"u4"}, l.CoHolders)

	assert.True(t, f.release("doc1", "u4", false))
	assert.True(t, f.release("doc1", "u9", true), "force release")
	assert.Nil(t, f.active(t, "doc1"))
}

func TestHolderReleaseDeletesSharedLock(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "u1", TypeShared, nil, "u2")
	require.NoError(t, err)
	require.True(t, f.release("doc1", "u1", false))
	assert.Nil(t, f.active(t, "doc1"))

	l, err := f.acquire("doc1", "u3", TypeExclusive, nil)
	require.NoError(t, err)
	assert.Equal(t, "u3", l.Holder)
	assert.Empty(t, l.AllowedUsers)
}

func TestExpireRemovesOnlyLapsedLock(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "u1", TypeExclusive, ttl(time.Minute))
	require.NoError(t, err)

	expire := func() *Lock {
		var l *Lock
		require.NoError(t, f.db.Update(func(tx *storage.Tx) error {
			var err error
			l, err = f.m.Expire(tx, "doc1", f.now)
			return err
		}))
		return l
	}

	assert.Nil(t, expire(), "still in force")
	f.now = f.now.Add(time.Minute)
	l := expire()
	require.NotNil(t, l)
	assert.Equal(t, "u1", l.Holder)
	assert.Nil(t, expire())
}

func TestReacquireRefreshesAndConverts(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "u1", TypeExclusive, ttl(time.Minute))
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Second)
	l, err := f.acquire("doc1", "u1", TypeExclusive, ttl(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Minute), *l.ExpiresAt)

	l, err = f.acquire("doc1", "u1", TypeShared, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeShared, l.Type)
	assert.Nil(t, l.ExpiresAt)
}

func TestExpiredLockIsAbsent(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "u1", TypeExclusive, ttl(time.Minute))
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	assert.Nil(t, f.active(t, "doc1"))
	assert.False(t, f.release("doc1", "u1", false))

	_, err = f.acquire("doc1", "u2", TypeExclusive, nil)
	assert.NoError(t, err)
}

func TestZeroTTLIsSweptBeforeAnyoneSeesIt(t *testing.T) {
	f := setup(t)

	l, err := f.acquire("doc1", "u1", TypeExclusive, ttl(0))
	require.NoError(t, err)
	assert.True(t, l.Expired(f.now))
	assert.Nil(t, f.active(t, "doc1"))

	var swept []*Lock
	require.NoError(t, f.db.Update(func(tx *storage.Tx) error {
		swept, err = f.m.SweepExpired(tx, f.now)
		return err
	}))
	require.Len(t, swept, 1)
	assert.Equal(t, "u1", swept[0].Holder)

	require.NoError(t, f.db.View(func(tx *storage.Tx) error {
		stored, err := f.m.Get(tx, "doc1")
		assert.Nil(t, stored)
		return err
	}))
}

func TestAcquireValidation(t *testing.T) {
	f := setup(t)

	_, err := f.acquire("doc1", "", TypeShared, nil)
	assert.ErrorIs(t, err, ErrInvalidLock)
	_, err = f.acquire("doc1", "u1", "advisory", nil)
	assert.ErrorIs(t, err, ErrInvalidLock)
	_, err = f.acquire("doc1", "u1", TypeShared, ttl(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidLock)
}

func TestCheckWrite(t *testing.T) {
	assert.NoError(t, CheckWrite(nil, "anyone"))

	ex := &Lock{DocumentID: "doc1", Type: TypeExclusive, Holder: "u1"}
	assert.NoError(t, CheckWrite(ex, "u1"))
	assert.ErrorIs(t, CheckWrite(ex, "u2"), ErrLockConflict)

	ro := &Lock{DocumentID: "doc1", Type: TypeReadOnly, Holder: "u1"}
	assert.ErrorIs(t, CheckWrite(ro, "u1"), ErrLockConflict)
}
