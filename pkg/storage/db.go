// ABOUTME: Transactional key-value store backed by bbolt
// ABOUTME: Buckets mirror the logical tables of the version graph

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names one logical table
type Bucket string

const (
	BucketVersions          Bucket = "versions"           // id -> Version
	BucketVersionIndex      Bucket = "version_index"      // (documentID, number) -> id
	BucketSequences         Bucket = "sequences"          // documentID -> last allocated number
	BucketDocuments         Bucket = "documents"          // documentID -> Document
	BucketBranches          Bucket = "branches"           // id -> Branch
	BucketBranchIndex       Bucket = "branch_index"       // (documentID, name) -> id
	BucketLocks             Bucket = "locks"              // documentID -> Lock
	BucketRetentionPolicies Bucket = "retention_policies" // document type -> Policy
)

var allBuckets = []Bucket{
	BucketVersions,
	BucketVersionIndex,
	BucketSequences,
	BucketDocuments,
	BucketBranches,
	BucketBranchIndex,
	BucketLocks,
	BucketRetentionPolicies,
}

// Options configures how the database file is opened
type Options struct {
	Timeout time.Duration // How long to wait for the file lock
	NoSync  bool          // Skip fsync on commit (tests only)
}

// DB is the persistent store shared by every component of the engine
type DB struct {
	Path string
	bolt *bolt.DB
}

// Open opens or creates the database file and ensures all buckets exist
func Open(path string, opts Options) (*DB, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return &DB{Path: path, bolt: bdb}, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Update runs fn in a read-write transaction.
// Returning an error from fn rolls back every write made through tx.
func (db *DB) Update(fn func(tx *Tx) error) error {
	return db.bolt.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// View runs fn in a read-only transaction over a consistent snapshot
func (db *DB) View(fn func(tx *Tx) error) error {
	return db.bolt.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// SizeBytes returns the current size of the data file
func (db *DB) SizeBytes() int64 {
	var size int64
	_ = db.bolt.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// Tx is a transaction handle scoped to one Update or View call
type Tx struct {
	btx *bolt.Tx
}

// Writable reports whether the transaction can write
func (tx *Tx) Writable() bool {
	return tx.btx.Writable()
}

func (tx *Tx) bucket(b Bucket) (*bolt.Bucket, error) {
	bk := tx.btx.Bucket([]byte(b))
	if bk == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketMissing, b)
	}
	return bk, nil
}

// Get returns a copy of the value stored under key
func (tx *Tx) Get(b Bucket, key []byte) ([]byte, bool) {
	bk, err := tx.bucket(b)
	if err != nil {
		return nil, false
	}
	val := bk.Get(key)
	if val == nil {
		return nil, false
	}
	return bytes.Clone(val), true
}

// Put stores val under key
func (tx *Tx) Put(b Bucket, key, val []byte) error {
	bk, err := tx.bucket(b)
	if err != nil {
		return err
	}
	return bk.Put(key, val)
}

// Del removes key
func (tx *Tx) Del(b Bucket, key []byte) error {
	bk, err := tx.bucket(b)
	if err != nil {
		return err
	}
	return bk.Delete(key)
}

// Scan visits keys starting with prefix in ascending order until fn returns false.
// key and val are only valid for the duration of the callback.
func (tx *Tx) Scan(b Bucket, prefix []byte, fn func(key, val []byte) bool) error {
	bk, err := tx.bucket(b)
	if err != nil {
		return err
	}

	c := bk.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

// GetJSON decodes the record stored under key into out
func (tx *Tx) GetJSON(b Bucket, key []byte, out any) (bool, error) {
	bk, err := tx.bucket(b)
	if err != nil {
		return false, err
	}
	val := bk.Get(key)
	if val == nil {
		return false, nil
	}
	if err := json.Unmarshal(val, out); err != nil {
		return true, fmt.Errorf("%w: %s/%s: %v", ErrCorruptRecord, b, key, err)
	}
	return true, nil
}

// DecodeJSON decodes a value visited by Scan
func DecodeJSON(val []byte, out any) error {
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key
func (tx *Tx) PutJSON(b Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", b, err)
	}
	return tx.Put(b, key, data)
}

// Count returns the number of keys in a bucket
func (tx *Tx) Count(b Bucket) int {
	bk, err := tx.bucket(b)
	if err != nil {
		return 0
	}
	return bk.Stats().KeyN
}
