// ABOUTME: Request and response messages of the VersionService
// ABOUTME: Messages travel as google.protobuf.Struct built from their JSON form

package server

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/version"
)

// Empty is a message without fields
type Empty struct{}

type IDRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor,omitempty"`
}

type DocumentRequest struct {
	DocumentID string `json:"document_id"`
	Actor      string `json:"actor,omitempty"`
}

type CreateVersionRequest struct {
	DocumentID      string            `json:"document_id"`
	DocumentType    string            `json:"document_type,omitempty"`
	Content         []byte            `json:"content"`
	Actor           string            `json:"actor"`
	Branch          string            `json:"branch,omitempty"`
	ParentVersionID string            `json:"parent_version_id,omitempty"`
	Detached        bool              `json:"detached,omitempty"`
	Changes         []change.Change   `json:"changes,omitempty"`
	Status          version.Status    `json:"status,omitempty"`
	IsBaseline      bool              `json:"is_baseline,omitempty"`
	IsSnapshot      bool              `json:"is_snapshot,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type ListVersionsRequest struct {
	DocumentID     string           `json:"document_id"`
	Branch         string           `json:"branch,omitempty"`
	Statuses       []version.Status `json:"statuses,omitempty"`
	IncludeDeleted bool             `json:"include_deleted,omitempty"`
	Ascending      bool             `json:"ascending,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

type VersionsResponse struct {
	Versions []*version.Version `json:"versions"`
}

type ContentResponse struct {
	Content []byte `json:"content"`
}

type UpdateVersionRequest struct {
	ID    string        `json:"id"`
	Patch version.Patch `json:"patch"`
	Actor string        `json:"actor"`
}

type CreateBranchRequest struct {
	DocumentID    string              `json:"document_id"`
	Name          string              `json:"name"`
	BaseVersionID string              `json:"base_version_id,omitempty"`
	Actor         string              `json:"actor"`
	Protected     bool                `json:"protected,omitempty"`
	Policy        *branch.MergePolicy `json:"policy,omitempty"`
}

type BranchRequest struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Actor      string `json:"actor,omitempty"`
	Protected  bool   `json:"protected,omitempty"`
}

type BranchesResponse struct {
	Branches []*branch.Branch `json:"branches"`
}

type MergeRequest struct {
	DocumentID   string             `json:"document_id"`
	SourceBranch string             `json:"source_branch"`
	TargetBranch string             `json:"target_branch"`
	Strategy     merge.Strategy     `json:"strategy,omitempty"`
	Resolutions  []merge.Resolution `json:"resolutions,omitempty"`
	Actor        string             `json:"actor"`
	Description  string             `json:"description,omitempty"`
}

type MergeResponse struct {
	MergeID   string           `json:"merge_id"`
	State     merge.State      `json:"state"`
	Strategy  merge.Strategy   `json:"strategy"`
	Version   *version.Version `json:"version,omitempty"`
	Conflicts []merge.Conflict `json:"conflicts,omitempty"`
}

type ConflictsRequest struct {
	DocumentID   string `json:"document_id"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
}

type ConflictsResponse struct {
	Conflicts []merge.Conflict `json:"conflicts"`
}

type LockRequest struct {
	DocumentID string    `json:"document_id"`
	Actor      string    `json:"actor"`
	Type       lock.Type `json:"type"`
	// TTLSeconds absent means the lock never expires
	TTLSeconds   *float64 `json:"ttl_seconds,omitempty"`
	AllowedUsers []string `json:"allowed_users,omitempty"`
}

func (r *LockRequest) ttl() *time.Duration {
	if r.TTLSeconds == nil {
		return nil
	}
	d := time.Duration(*r.TTLSeconds * float64(time.Second))
	return &d
}

type LockResponse struct {
	Lock *lock.Lock `json:"lock,omitempty"`
}

type UnlockResponse struct {
	Released bool `json:"released"`
}

type CompareRequest struct {
	FromVersionID string `json:"from_version_id"`
	ToVersionID   string `json:"to_version_id"`
	Actor         string `json:"actor,omitempty"`
}

type RetentionPolicyRequest struct {
	DocumentType string           `json:"document_type"`
	Policy       retention.Policy `json:"policy"`
}

type PoliciesResponse struct {
	Policies map[string]retention.Policy `json:"policies"`
}

type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Documents     int     `json:"documents"`
	Versions      int     `json:"versions"`
	Locks         int     `json:"locks"`
	DBSizeBytes   int64   `json:"db_size_bytes"`
}

// toStruct converts a message to its wire form
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// fromStruct decodes a wire message into out
func fromStruct(s *structpb.Struct, out any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}
