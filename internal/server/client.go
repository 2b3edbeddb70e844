package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/compare"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/version"
)

// Client calls a VersionService
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, name string, req, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+name, in, out, opts...); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func call[T any](ctx context.Context, c *Client, name string, req any) (*T, error) {
	out := new(T)
	if err := c.invoke(ctx, name, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateVersion(ctx context.Context, req *CreateVersionRequest) (*version.Version, error) {
	return call[version.Version](ctx, c, "CreateVersion", req)
}

func (c *Client) GetVersion(ctx context.Context, id string) (*version.Version, error) {
	return call[version.Version](ctx, c, "GetVersion", &IDRequest{ID: id})
}

func (c *Client) ListVersions(ctx context.Context, req *ListVersionsRequest) ([]*version.Version, error) {
	out, err := call[VersionsResponse](ctx, c, "ListVersions", req)
	if err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) GetDocument(ctx context.Context, documentID string) (*version.Document, error) {
	return call[version.Document](ctx, c, "GetDocument", &DocumentRequest{DocumentID: documentID})
}

func (c *Client) GetContent(ctx context.Context, id string) ([]byte, error) {
	out := new(ContentResponse)
	if err := c.invoke(ctx, "GetContent", &IDRequest{ID: id}, out); err != nil {
		return nil, err
	}
	return out.Content, nil
}

func (c *Client) UpdateVersion(ctx context.Context, id string, patch version.Patch, actor string) (*version.Version, error) {
	return call[version.Version](ctx, c, "UpdateVersion", &UpdateVersionRequest{ID: id, Patch: patch, Actor: actor})
}

func (c *Client) DeleteVersion(ctx context.Context, id, actor string) error {
	return c.invoke(ctx, "DeleteVersion", &IDRequest{ID: id, Actor: actor}, &Empty{})
}

func (c *Client) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*branch.Branch, error) {
	return call[branch.Branch](ctx, c, "CreateBranch", req)
}

func (c *Client) GetBranches(ctx context.Context, documentID string) ([]*branch.Branch, error) {
	out := new(BranchesResponse)
	if err := c.invoke(ctx, "GetBranches", &DocumentRequest{DocumentID: documentID}, out); err != nil {
		return nil, err
	}
	return out.Branches, nil
}

func (c *Client) GetBranch(ctx context.Context, documentID, name string) (*branch.Branch, error) {
	return call[branch.Branch](ctx, c, "GetBranch", &BranchRequest{DocumentID: documentID, Name: name})
}

func (c *Client) AbandonBranch(ctx context.Context, documentID, name, actor string) (*branch.Branch, error) {
	return call[branch.Branch](ctx, c, "AbandonBranch", &BranchRequest{DocumentID: documentID, Name: name, Actor: actor})
}

func (c *Client) ProtectBranch(ctx context.Context, documentID, name string, protected bool, actor string) (*branch.Branch, error) {
	req := &BranchRequest{DocumentID: documentID, Name: name, Protected: protected, Actor: actor}
	return call[branch.Branch](ctx, c, "ProtectBranch", req)
}

// MergeBranch merges two branches. A merge blocked by conflicts returns a
// *merge.ConflictError when the server attached the conflict list.
func (c *Client) MergeBranch(ctx context.Context, req *MergeRequest) (*MergeResponse, error) {
	out := new(MergeResponse)
	err := c.invoke(ctx, "MergeBranch", req, out)
	if err != nil {
		if conflicts, ok := ConflictsOf(err); ok {
			return nil, &merge.ConflictError{Conflicts: conflicts}
		}
		return nil, err
	}
	return out, nil
}

// ConflictsOf extracts the conflict list carried by an Aborted status
func ConflictsOf(err error) ([]merge.Conflict, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return nil, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var resp ConflictsResponse
		if fromStruct(s, &resp) == nil {
			return resp.Conflicts, true
		}
	}
	return nil, false
}

func (c *Client) DetectConflicts(ctx context.Context, documentID, source, target string) ([]merge.Conflict, error) {
	out := new(ConflictsResponse)
	req := &ConflictsRequest{DocumentID: documentID, SourceBranch: source, TargetBranch: target}
	if err := c.invoke(ctx, "DetectConflicts", req, out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

func (c *Client) LockDocument(ctx context.Context, req *LockRequest) (*lock.Lock, error) {
	return call[lock.Lock](ctx, c, "LockDocument", req)
}

func (c *Client) UnlockDocument(ctx context.Context, documentID, actor string) (bool, error) {
	out := new(UnlockResponse)
	err := c.invoke(ctx, "UnlockDocument", &DocumentRequest{DocumentID: documentID, Actor: actor}, out)
	return out.Released, err
}

// GetLock returns the lock in force, or nil
func (c *Client) GetLock(ctx context.Context, documentID string) (*lock.Lock, error) {
	out := new(LockResponse)
	if err := c.invoke(ctx, "GetLock", &DocumentRequest{DocumentID: documentID}, out); err != nil {
		return nil, err
	}
	return out.Lock, nil
}

func (c *Client) Compare(ctx context.Context, fromVersionID, toVersionID, actor string) (*compare.Comparison, error) {
	req := &CompareRequest{FromVersionID: fromVersionID, ToVersionID: toVersionID, Actor: actor}
	return call[compare.Comparison](ctx, c, "Compare", req)
}

func (c *Client) GetComparison(ctx context.Context, id string) (*compare.Comparison, error) {
	return call[compare.Comparison](ctx, c, "GetComparison", &IDRequest{ID: id})
}

func (c *Client) SetRetentionPolicy(ctx context.Context, documentType string, p retention.Policy) error {
	return c.invoke(ctx, "SetRetentionPolicy", &RetentionPolicyRequest{DocumentType: documentType, Policy: p}, &Empty{})
}

func (c *Client) GetRetentionPolicy(ctx context.Context, documentType string) (retention.Policy, error) {
	var out retention.Policy
	err := c.invoke(ctx, "GetRetentionPolicy", &RetentionPolicyRequest{DocumentType: documentType}, &out)
	return out, err
}

func (c *Client) DeleteRetentionPolicy(ctx context.Context, documentType string) error {
	return c.invoke(ctx, "DeleteRetentionPolicy", &RetentionPolicyRequest{DocumentType: documentType}, &Empty{})
}

func (c *Client) ListRetentionPolicies(ctx context.Context) (map[string]retention.Policy, error) {
	out := new(PoliciesResponse)
	if err := c.invoke(ctx, "ListRetentionPolicies", &Empty{}, out); err != nil {
		return nil, err
	}
	return out.Policies, nil
}

func (c *Client) ApplyRetention(ctx context.Context, documentID string) ([]*version.Version, error) {
	out := new(VersionsResponse)
	if err := c.invoke(ctx, "ApplyRetention", &DocumentRequest{DocumentID: documentID}, out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return call[HealthResponse](ctx, c, "Health", &Empty{})
}
