// ABOUTME: Branch records and merge policies
// ABOUTME: A branch is a named head pointer plus the ordered list of versions written on it

package branch

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/nainya/docrev/pkg/merge"
)

// Status is the lifecycle state of a branch
type Status string

const (
	StatusActive    Status = "active"
	StatusMerged    Status = "merged"
	StatusAbandoned Status = "abandoned"
)

// MergePolicy controls merges into a branch
type MergePolicy struct {
	AllowedStrategies  []merge.Strategy `json:"allowed_strategies,omitempty"`
	DefaultStrategy    merge.Strategy   `json:"default_strategy"`
	MarkSourceMerged   bool             `json:"mark_source_merged"`
	RequireNoConflicts bool             `json:"require_no_conflicts"`
}

// DefaultPolicy allows every strategy, defaults to auto and closes merged sources
func DefaultPolicy() MergePolicy {
	return MergePolicy{
		DefaultStrategy:  merge.StrategyAuto,
		MarkSourceMerged: true,
	}
}

// Allows reports whether the policy permits the strategy.
// An empty allow list permits every strategy.
func (p MergePolicy) Allows(s merge.Strategy) bool {
	if !s.Valid() {
		return false
	}
	return len(p.AllowedStrategies) == 0 || slices.Contains(p.AllowedStrategies, s)
}

// Branch is a named line of history within a document
type Branch struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	DocumentID    string      `json:"document_id"`
	BaseVersionID string      `json:"base_version_id,omitempty"`
	HeadVersionID string      `json:"head_version_id,omitempty"`
	HeadNumber    uint64      `json:"head_number"`
	Versions      []string    `json:"versions"`
	Status        Status      `json:"status"`
	IsProtected   bool        `json:"is_protected"`
	MergePolicy   MergePolicy `json:"merge_policy"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	MergedInto    string      `json:"merged_into,omitempty"`
}

// Closed reports whether the branch reached a terminal state
func (b *Branch) Closed() bool {
	return b.Status == StatusMerged || b.Status == StatusAbandoned
}

// Contains reports whether the version was written on this branch
func (b *Branch) Contains(versionID string) bool {
	return slices.Contains(b.Versions, versionID)
}

// ValidateName rejects empty names, whitespace and control characters
func ValidateName(name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("%w: name must be 1-128 bytes", ErrInvalidBranch)
	}
	if strings.IndexFunc(name, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalidBranch, name)
	}
	return nil
}
