// ABOUTME: Version records, the document registry and list filters
// ABOUTME: Content fields are fixed at creation; only administrative fields change later

package version

import (
	"slices"
	"time"

	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/merge"
)

// Status is the lifecycle state of a version
type Status string

const (
	StatusDraft           Status = "draft"
	StatusActive          Status = "active"
	StatusArchived        Status = "archived"
	StatusDeprecated      Status = "deprecated"
	StatusDeleted         Status = "deleted"
	StatusPendingApproval Status = "pending_approval"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived, StatusDeprecated, StatusDeleted, StatusPendingApproval:
		return true
	}
	return false
}

// MainBranch is created implicitly with the first version of a document
const MainBranch = "main"

// Version is one immutable snapshot of a document
type Version struct {
	ID              string `json:"id"`
	DocumentID      string `json:"document_id"`
	DocumentType    string `json:"document_type,omitempty"`
	VersionNumber   uint64 `json:"version_number"`
	SemanticVersion SemVer `json:"semantic_version"`
	ParentVersionID string `json:"parent_version_id,omitempty"`
	BranchName      string `json:"branch_name"`

	Checksum   string `json:"checksum"`
	SizeBytes  int64  `json:"size_bytes"`
	StorageKey string `json:"storage_key"`

	Changes        []change.Change `json:"changes"`
	ChangesSummary change.Summary  `json:"changes_summary"`

	Status     Status     `json:"status"`
	IsBaseline bool       `json:"is_baseline"`
	IsSnapshot bool       `json:"is_snapshot"`
	MergeInfo  *MergeInfo `json:"merge_info,omitempty"`

	Tags        []string          `json:"tags,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the version reached the terminal state
func (v *Version) IsDeleted() bool {
	return v.Status == StatusDeleted
}

// IsApproved reports whether the version carries an approval
func (v *Version) IsApproved() bool {
	return v.ApprovedAt != nil
}

// Clone returns a deep copy of v
func (v *Version) Clone() *Version {
	c := *v
	c.Changes = slices.Clone(v.Changes)
	c.Tags = slices.Clone(v.Tags)
	if v.Metadata != nil {
		c.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			c.Metadata[k] = val
		}
	}
	if v.MergeInfo != nil {
		mi := *v.MergeInfo
		mi.SourceVersionIDs = slices.Clone(v.MergeInfo.SourceVersionIDs)
		mi.Conflicts = slices.Clone(v.MergeInfo.Conflicts)
		mi.Resolutions = slices.Clone(v.MergeInfo.Resolutions)
		c.MergeInfo = &mi
	}
	return &c
}

// sameContent reports whether two records agree on every immutable field
func sameContent(a, b *Version) bool {
	return a.ID == b.ID &&
		a.DocumentID == b.DocumentID &&
		a.VersionNumber == b.VersionNumber &&
		a.SemanticVersion == b.SemanticVersion &&
		a.ParentVersionID == b.ParentVersionID &&
		a.BranchName == b.BranchName &&
		a.Checksum == b.Checksum &&
		a.SizeBytes == b.SizeBytes &&
		a.StorageKey == b.StorageKey &&
		a.CreatedBy == b.CreatedBy &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// MergeInfo records how a merge version was produced
type MergeInfo struct {
	SourceVersionIDs  []string           `json:"source_version_ids"`
	TargetVersionID   string             `json:"target_version_id"`
	AncestorVersionID string             `json:"ancestor_version_id,omitempty"`
	SourceBranch      string             `json:"source_branch"`
	TargetBranch      string             `json:"target_branch"`
	Strategy          merge.Strategy     `json:"strategy"`
	Conflicts         []merge.Conflict   `json:"conflicts,omitempty"`
	Resolutions       []merge.Resolution `json:"resolutions,omitempty"`
}

// Document is registered when its first version is written
type Document struct {
	ID           string    `json:"id"`
	Type         string    `json:"type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	VersionCount uint64    `json:"version_count"`
}

// Filter narrows a version listing
type Filter struct {
	Branch         string   // Only versions written on this branch
	Statuses       []Status // Only these statuses
	IncludeDeleted bool     // Include deleted versions
	Ascending      bool     // Oldest first instead of newest first
	Limit          int      // Zero means no limit
}

func (f Filter) match(v *Version) bool {
	if v.IsDeleted() && !f.IncludeDeleted && !slices.Contains(f.Statuses, StatusDeleted) {
		return false
	}
	if f.Branch != "" && v.BranchName != f.Branch {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, v.Status) {
		return false
	}
	return true
}

// Patch carries the administrative fields a caller may change.
// Nil fields are left untouched.
type Patch struct {
	Status      *Status           `json:"status,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Description *string           `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IsBaseline  *bool             `json:"is_baseline,omitempty"`
	Approve     bool              `json:"approve,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Status == nil && p.Tags == nil && p.Description == nil &&
		p.Metadata == nil && p.IsBaseline == nil && !p.Approve
}

// Apply writes the patch onto v. Metadata keys with empty values are removed.
func (p Patch) Apply(v *Version, actor string, now time.Time) {
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.Tags != nil {
		v.Tags = slices.Clone(p.Tags)
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	if p.Metadata != nil {
		if v.Metadata == nil {
			v.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, val := range p.Metadata {
			if val == "" {
				delete(v.Metadata, k)
				continue
			}
			v.Metadata[k] = val
		}
	}
	if p.IsBaseline != nil {
		v.IsBaseline = *p.IsBaseline
	}
	if p.Approve {
		v.ApprovedBy = actor
		v.ApprovedAt = &now
		if v.Status == StatusPendingApproval {
			v.Status = StatusActive
		}
	}
	v.UpdatedAt = now
}
