// ABOUTME: Performance benchmarks for the storage layer
// ABOUTME: Measures transaction throughput and key encoding

package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func openBenchDB(b *testing.B) *DB {
	b.Helper()
	db, err := Open(filepath.Join(b.TempDir(), "bench.db"), Options{NoSync: true})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

func versionKey(doc string, n int) []byte {
	return Key(String(doc), Uint64(uint64(n)))
}

func BenchmarkPut(b *testing.B) {
	db := openBenchDB(b)
	val := []byte(`{"name":"bench","count":1}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(func(tx *Tx) error {
			return tx.Put(BucketVersionIndex, versionKey("doc", i), val)
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBatchPut(b *testing.B) {
	db := openBenchDB(b)
	val := []byte(`{"name":"bench","count":1}`)
	const batch = 100

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(func(tx *Tx) error {
			for j := 0; j < batch; j++ {
				if err := tx.Put(BucketVersionIndex, versionKey("doc", i*batch+j), val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetJSON(b *testing.B) {
	db := openBenchDB(b)
	const numKeys = 10000
	err := db.Update(func(tx *Tx) error {
		for i := 0; i < numKeys; i++ {
			if err := tx.PutJSON(BucketVersions, versionKey("doc", i), record{Name: "bench", Count: i}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.View(func(tx *Tx) error {
			var r record
			found, err := tx.GetJSON(BucketVersions, versionKey("doc", i%numKeys), &r)
			if !found {
				b.Fatal("key not found")
			}
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScanDocument(b *testing.B) {
	db := openBenchDB(b)
	err := db.Update(func(tx *Tx) error {
		for _, doc := range []string{"doc-a", "doc-b", "doc-c"} {
			for i := 1; i <= 1000; i++ {
				if err := tx.Put(BucketVersionIndex, versionKey(doc, i), []byte(doc)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	prefix := Key(String("doc-b"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		count := 0
		err := db.View(func(tx *Tx) error {
			return tx.Scan(BucketVersionIndex, prefix, func(_, _ []byte) bool {
				count++
				return true
			})
		})
		if err != nil || count != 1000 {
			b.Fatalf("scan: %d keys, %v", count, err)
		}
	}
}

func BenchmarkEncodeKey(b *testing.B) {
	at := time.Now()
	for i := 0; i < b.N; i++ {
		_ = Key(String("contract/with\x00nul"), Uint64(uint64(i)), Time(at))
	}
}

func BenchmarkDecodeKey(b *testing.B) {
	key := Key(String("contract"), Uint64(42), Int64(-7))
	for i := 0; i < b.N; i++ {
		if _, err := DecodeKey(key); err != nil {
			b.Fatal(err)
		}
	}
}
