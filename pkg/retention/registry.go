package retention

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"

	"github.com/nainya/docrev/pkg/storage"
)

// DefaultPattern matches every document type
const DefaultPattern = "*"

var validate = validator.New()

// Registry stores policies keyed by document type or type pattern
type Registry struct{}

// NewRegistry creates a policy registry
func NewRegistry() *Registry {
	return &Registry{}
}

func policyKey(pattern string) []byte {
	return storage.Key(storage.String(pattern))
}

// Set stores the policy for an exact document type or a glob pattern
func (r *Registry) Set(tx *storage.Tx, pattern string, p Policy) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty document type", ErrInvalidPolicy)
	}
	if _, err := glob.Compile(pattern); err != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrInvalidPolicy, pattern, err)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return tx.PutJSON(storage.BucketRetentionPolicies, policyKey(pattern), p)
}

// Delete removes the policy stored under pattern
func (r *Registry) Delete(tx *storage.Tx, pattern string) error {
	return tx.Del(storage.BucketRetentionPolicies, policyKey(pattern))
}

// All returns every stored policy by pattern
func (r *Registry) All(tx *storage.Tx) (map[string]Policy, error) {
	out := make(map[string]Policy)
	var decodeErr error
	err := tx.Scan(storage.BucketRetentionPolicies, nil, func(key, val []byte) bool {
		vals, err := storage.DecodeKey(key)
		if err != nil || len(vals) != 1 {
			decodeErr = fmt.Errorf("%w: policy key %x", storage.ErrCorruptRecord, key)
			return false
		}
		var p Policy
		if err := storage.DecodeJSON(val, &p); err != nil {
			decodeErr = err
			return false
		}
		out[string(vals[0].Str)] = p
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// Resolve finds the policy for a document type: an exact entry first, then
// the longest matching pattern, then the default pattern.
func (r *Registry) Resolve(tx *storage.Tx, documentType string) (Policy, error) {
	var p Policy
	found, err := tx.GetJSON(storage.BucketRetentionPolicies, policyKey(documentType), &p)
	if err != nil {
		return Policy{}, err
	}
	if found {
		return p, nil
	}

	all, err := r.All(tx)
	if err != nil {
		return Policy{}, err
	}

	best := ""
	for pattern := range all {
		if pattern == DefaultPattern || len(pattern) < len(best) {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(documentType) && (len(pattern) > len(best) || pattern < best) {
			best = pattern
		}
	}
	if best != "" {
		return all[best], nil
	}

	if p, ok := all[DefaultPattern]; ok {
		return p, nil
	}
	return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, documentType)
}
