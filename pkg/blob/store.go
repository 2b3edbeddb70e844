// ABOUTME: Content-addressed blob storage for version content
// ABOUTME: Keys are the sha256 of the content, so identical bytes share one blob

package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Store puts and gets raw document bytes by opaque key
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Checksum returns the hex sha256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validKey accepts only keys produced by Checksum
func validKey(key string) error {
	if len(key) != sha256.Size*2 {
		return fmt.Errorf("%w: malformed key %q", ErrNotFound, key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("%w: malformed key %q", ErrNotFound, key)
	}
	return nil
}
