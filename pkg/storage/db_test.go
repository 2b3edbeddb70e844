// ABOUTME: Tests for the bbolt-backed store
// ABOUTME: Verifies atomic commit, rollback, snapshots and prefix scans

package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{NoSync: true})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpdateCommit(t *testing.T) {
	db := openTestDB(t)

	err := db.Update(func(tx *Tx) error {
		if err := tx.Put(BucketLocks, []byte("key1"), []byte("value1")); err != nil {
			return err
		}
		return tx.PutJSON(BucketDocuments, []byte("doc"), record{Name: "doc", Count: 2})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		val, ok := tx.Get(BucketLocks, []byte("key1"))
		if !ok || string(val) != "value1" {
			t.Errorf("key1 not persisted, got %q", val)
		}

		var rec record
		found, err := tx.GetJSON(BucketDocuments, []byte("doc"), &rec)
		if err != nil || !found {
			t.Fatalf("GetJSON failed: found=%v err=%v", found, err)
		}
		if rec.Count != 2 {
			t.Errorf("Expected count 2, got %d", rec.Count)
		}
		if tx.Writable() {
			t.Error("View transaction should not be writable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestUpdateRollback(t *testing.T) {
	db := openTestDB(t)

	if err := db.Update(func(tx *Tx) error {
		return tx.Put(BucketLocks, []byte("existing"), []byte("value"))
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	boom := errors.New("boom")
	err := db.Update(func(tx *Tx) error {
		if err := tx.Put(BucketLocks, []byte("new"), []byte("value")); err != nil {
			return err
		}
		if err := tx.Del(BucketLocks, []byte("existing")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	_ = db.View(func(tx *Tx) error {
		if _, ok := tx.Get(BucketLocks, []byte("new")); ok {
			t.Error("Rolled back key should not exist")
		}
		if _, ok := tx.Get(BucketLocks, []byte("existing")); !ok {
			t.Error("Rolled back delete should leave key in place")
		}
		return nil
	})
}

func TestScanPrefix(t *testing.T) {
	db := openTestDB(t)

	err := db.Update(func(tx *Tx) error {
		for _, doc := range []string{"a", "ab", "b"} {
			for n := uint64(1); n <= 3; n++ {
				if err := tx.Put(BucketVersionIndex, Key(String(doc), Uint64(n)), []byte(doc)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var nums []uint64
	_ = db.View(func(tx *Tx) error {
		return tx.Scan(BucketVersionIndex, Key(String("a")), func(key, val []byte) bool {
			vals, err := DecodeKey(key)
			if err != nil {
				t.Fatalf("DecodeKey failed: %v", err)
			}
			nums = append(nums, vals[1].U64)
			return true
		})
	})

	if len(nums) != 3 {
		t.Fatalf("Expected 3 keys for doc a, got %d", len(nums))
	}
	for i, n := range nums {
		if n != uint64(i+1) {
			t.Errorf("Expected ascending order, got %v", nums)
		}
	}
}

func TestCorruptRecord(t *testing.T) {
	db := openTestDB(t)

	_ = db.Update(func(tx *Tx) error {
		return tx.Put(BucketDocuments, []byte("bad"), []byte("{not json"))
	})

	_ = db.View(func(tx *Tx) error {
		var rec record
		_, err := tx.GetJSON(BucketDocuments, []byte("bad"), &rec)
		if !errors.Is(err, ErrCorruptRecord) {
			t.Errorf("Expected ErrCorruptRecord, got %v", err)
		}
		return nil
	})
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := db.Update(func(tx *Tx) error {
		return tx.Put(BucketSequences, []byte("doc"), []byte{1})
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = Open(path, Options{})
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer db.Close()

	_ = db.View(func(tx *Tx) error {
		if _, ok := tx.Get(BucketSequences, []byte("doc")); !ok {
			t.Error("Value lost across reopen")
		}
		return nil
	})
}
