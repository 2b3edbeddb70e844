package blob

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 64 << 20 // 64MB of content
	defaultBufferItems = 64
)

// CacheConfig sizes the read cache
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// CachedStore serves repeated reads of immutable blobs from memory
type CachedStore struct {
	Store
	cache *ristretto.Cache
}

// NewCachedStore wraps next with a read-through cache.
// Zero config fields take defaults.
func NewCachedStore(next Store, cfg CacheConfig) (*CachedStore, error) {
	if cfg.NumCounters == 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = defaultBufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	return &CachedStore{Store: next, cache: cache}, nil
}

// Put writes through and primes the cache
func (s *CachedStore) Put(ctx context.Context, data []byte) (string, error) {
	key, err := s.Store.Put(ctx, data)
	if err != nil {
		return "", err
	}
	s.cache.Set(key, clone(data), int64(len(data)))
	return key, nil
}

// Get serves from the cache, falling back to the wrapped store
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := s.cache.Get(key); ok {
		return clone(v.([]byte)), nil
	}

	data, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, clone(data), int64(len(data)))
	return data, nil
}

// Wait blocks until buffered cache writes are applied
func (s *CachedStore) Wait() {
	s.cache.Wait()
}

// Close releases the cache
func (s *CachedStore) Close() {
	s.cache.Close()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
