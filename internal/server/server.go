// Package server exposes the version control engine over gRPC
package server

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/docrev/internal/logger"
	"github.com/nainya/docrev/internal/metrics"
	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/compare"
	"github.com/nainya/docrev/pkg/engine"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// ServiceName is the full gRPC service name
const ServiceName = "docrev.v1.VersionService"

// ActorHeader is the metadata key consulted when a request names no actor
const ActorHeader = "x-docrev-actor"

// VersionService is implemented by Server
type VersionService interface {
	Engine() *engine.Engine
}

// Server implements the VersionService on top of an engine
type Server struct {
	engine    *engine.Engine
	metrics   *metrics.Metrics
	log       *logger.Logger
	startTime time.Time
}

// NewServer creates a server. m may be nil.
func NewServer(eng *engine.Engine, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{engine: eng, metrics: m, log: log, startTime: time.Now()}
}

// Engine returns the engine behind the server
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Register adds the service to a gRPC server
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// observe records the duration and outcome of one engine operation
func (s *Server) observe(op string, start time.Time, err error) {
	d := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(op, d, err)
	}
	s.log.DbLogger(op).LogDbOperation(d, 0, err)
}

func actorOf(ctx context.Context, given string) string {
	if given != "" {
		return given
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(ActorHeader); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// ========== Versions ==========

func (s *Server) createVersion(ctx context.Context, req *CreateVersionRequest) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("create_version", start, err) }(time.Now())
	return s.engine.CreateVersion(ctx, engine.CreateVersionRequest{
		DocumentID:      req.DocumentID,
		DocumentType:    req.DocumentType,
		Content:         req.Content,
		Actor:           actorOf(ctx, req.Actor),
		Branch:          req.Branch,
		ParentVersionID: req.ParentVersionID,
		Detached:        req.Detached,
		Changes:         req.Changes,
		Status:          req.Status,
		IsBaseline:      req.IsBaseline,
		IsSnapshot:      req.IsSnapshot,
		Tags:            req.Tags,
		Description:     req.Description,
		Metadata:        req.Metadata,
	})
}

func (s *Server) getVersion(ctx context.Context, req *IDRequest) (*version.Version, error) {
	return s.engine.GetVersion(ctx, req.ID)
}

func (s *Server) listVersions(ctx context.Context, req *ListVersionsRequest) (*VersionsResponse, error) {
	vs, err := s.engine.ListVersions(ctx, req.DocumentID, version.Filter{
		Branch:         req.Branch,
		Statuses:       req.Statuses,
		IncludeDeleted: req.IncludeDeleted,
		Ascending:      req.Ascending,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &VersionsResponse{Versions: vs}, nil
}

func (s *Server) getDocument(ctx context.Context, req *DocumentRequest) (*version.Document, error) {
	return s.engine.GetDocument(ctx, req.DocumentID)
}

func (s *Server) getContent(ctx context.Context, req *IDRequest) (*ContentResponse, error) {
	data, err := s.engine.GetContent(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &ContentResponse{Content: data}, nil
}

func (s *Server) updateVersion(ctx context.Context, req *UpdateVersionRequest) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("update_version", start, err) }(time.Now())
	return s.engine.UpdateVersion(ctx, req.ID, req.Patch, actorOf(ctx, req.Actor))
}

func (s *Server) deleteVersion(ctx context.Context, req *IDRequest) (_ *Empty, err error) {
	defer func(start time.Time) { s.observe("delete_version", start, err) }(time.Now())
	return &Empty{}, s.engine.DeleteVersion(ctx, req.ID, actorOf(ctx, req.Actor))
}

// ========== Branches ==========

func (s *Server) createBranch(ctx context.Context, req *CreateBranchRequest) (*branch.Branch, error) {
	return s.engine.CreateBranch(ctx, engine.CreateBranchRequest{
		DocumentID:    req.DocumentID,
		Name:          req.Name,
		BaseVersionID: req.BaseVersionID,
		Actor:         actorOf(ctx, req.Actor),
		Protected:     req.Protected,
		Policy:        req.Policy,
	})
}

func (s *Server) getBranches(ctx context.Context, req *DocumentRequest) (*BranchesResponse, error) {
	bs, err := s.engine.GetBranches(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	return &BranchesResponse{Branches: bs}, nil
}

func (s *Server) getBranch(ctx context.Context, req *BranchRequest) (*branch.Branch, error) {
	return s.engine.GetBranch(ctx, req.DocumentID, req.Name)
}

func (s *Server) abandonBranch(ctx context.Context, req *BranchRequest) (*branch.Branch, error) {
	return s.engine.AbandonBranch(ctx, req.DocumentID, req.Name, actorOf(ctx, req.Actor))
}

func (s *Server) protectBranch(ctx context.Context, req *BranchRequest) (*branch.Branch, error) {
	return s.engine.ProtectBranch(ctx, req.DocumentID, req.Name, req.Protected, actorOf(ctx, req.Actor))
}

// ========== Merges ==========

func (s *Server) mergeBranch(ctx context.Context, req *MergeRequest) (_ *MergeResponse, err error) {
	defer func(start time.Time) { s.observe("merge_branch", start, err) }(time.Now())
	res, err := s.engine.MergeBranch(ctx, engine.MergeRequest{
		DocumentID:   req.DocumentID,
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		Strategy:     req.Strategy,
		Resolutions:  req.Resolutions,
		Actor:        actorOf(ctx, req.Actor),
		Description:  req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &MergeResponse{
		MergeID:   res.Request.ID,
		State:     res.Request.State,
		Strategy:  res.Request.Strategy,
		Version:   res.Version,
		Conflicts: res.Conflicts,
	}, nil
}

func (s *Server) detectConflicts(ctx context.Context, req *ConflictsRequest) (*ConflictsResponse, error) {
	cs, err := s.engine.DetectConflicts(ctx, req.DocumentID, req.SourceBranch, req.TargetBranch)
	if err != nil {
		return nil, err
	}
	return &ConflictsResponse{Conflicts: cs}, nil
}

// ========== Locks ==========

func (s *Server) lockDocument(ctx context.Context, req *LockRequest) (*lock.Lock, error) {
	return s.engine.LockDocument(ctx, engine.LockRequest{
		DocumentID:   req.DocumentID,
		Actor:        actorOf(ctx, req.Actor),
		Type:         req.Type,
		TTL:          req.ttl(),
		AllowedUsers: req.AllowedUsers,
	})
}

func (s *Server) unlockDocument(ctx context.Context, req *DocumentRequest) (*UnlockResponse, error) {
	released, err := s.engine.UnlockDocument(ctx, req.DocumentID, actorOf(ctx, req.Actor))
	if err != nil {
		return nil, err
	}
	return &UnlockResponse{Released: released}, nil
}

func (s *Server) getLock(ctx context.Context, req *DocumentRequest) (*LockResponse, error) {
	l, err := s.engine.GetLock(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	return &LockResponse{Lock: l}, nil
}

// ========== Comparisons ==========

func (s *Server) compareVersions(ctx context.Context, req *CompareRequest) (*compare.Comparison, error) {
	return s.engine.Compare(ctx, req.FromVersionID, req.ToVersionID, actorOf(ctx, req.Actor))
}

func (s *Server) getComparison(ctx context.Context, req *IDRequest) (*compare.Comparison, error) {
	return s.engine.Comparison(ctx, req.ID)
}

// ========== Retention ==========

func (s *Server) setRetentionPolicy(ctx context.Context, req *RetentionPolicyRequest) (*Empty, error) {
	return &Empty{}, s.engine.SetRetentionPolicy(ctx, req.DocumentType, req.Policy)
}

func (s *Server) getRetentionPolicy(ctx context.Context, req *RetentionPolicyRequest) (*retention.Policy, error) {
	p, err := s.engine.RetentionPolicy(ctx, req.DocumentType)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) deleteRetentionPolicy(ctx context.Context, req *RetentionPolicyRequest) (*Empty, error) {
	return &Empty{}, s.engine.DeleteRetentionPolicy(ctx, req.DocumentType)
}

func (s *Server) listRetentionPolicies(ctx context.Context, _ *Empty) (*PoliciesResponse, error) {
	ps, err := s.engine.RetentionPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return &PoliciesResponse{Policies: ps}, nil
}

func (s *Server) applyRetention(ctx context.Context, req *DocumentRequest) (_ *VersionsResponse, err error) {
	defer func(start time.Time) { s.observe("apply_retention", start, err) }(time.Now())
	vs, err := s.engine.ApplyRetention(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	return &VersionsResponse{Versions: vs}, nil
}

// ========== Health ==========

func (s *Server) health(ctx context.Context, _ *Empty) (*HealthResponse, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.UpdateDbStats(stats.DBSizeBytes, stats.Documents)
	}
	return &HealthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Documents:     stats.Documents,
		Versions:      stats.Versions,
		Locks:         stats.Locks,
		DBSizeBytes:   stats.DBSizeBytes,
	}, nil
}

// ========== Service description ==========

// method adapts a typed handler to a gRPC method. Requests and responses
// travel as structpb.Struct; errors are mapped to status codes.
func method[Req, Resp any](name string, call func(*Server, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, msg any) (any, error) {
				req := new(Req)
				if err := fromStruct(msg.(*structpb.Struct), req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := call(srv.(*Server), ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				out, err := toStruct(resp)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the VersionService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VersionService)(nil),
	Methods: []grpc.MethodDesc{
		method("CreateVersion", (*Server).createVersion),
		method("GetVersion", (*Server).getVersion),
		method("ListVersions", (*Server).listVersions),
		method("GetDocument", (*Server).getDocument),
		method("GetContent", (*Server).getContent),
		method("UpdateVersion", (*Server).updateVersion),
		method("DeleteVersion", (*Server).deleteVersion),
		method("CreateBranch", (*Server).createBranch),
		method("GetBranches", (*Server).getBranches),
		method("GetBranch", (*Server).getBranch),
		method("AbandonBranch", (*Server).abandonBranch),
		method("ProtectBranch", (*Server).protectBranch),
		method("MergeBranch", (*Server).mergeBranch),
		method("DetectConflicts", (*Server).detectConflicts),
		method("LockDocument", (*Server).lockDocument),
		method("UnlockDocument", (*Server).unlockDocument),
		method("GetLock", (*Server).getLock),
		method("Compare", (*Server).compareVersions),
		method("GetComparison", (*Server).getComparison),
		method("SetRetentionPolicy", (*Server).setRetentionPolicy),
		method("GetRetentionPolicy", (*Server).getRetentionPolicy),
		method("DeleteRetentionPolicy", (*Server).deleteRetentionPolicy),
		method("ListRetentionPolicies", (*Server).listRetentionPolicies),
		method("ApplyRetention", (*Server).applyRetention),
		method("Health", (*Server).health),
	},
	Metadata: "docrev/v1/version_service",
}

// ========== Errors ==========

var codeOf = []struct {
	code codes.Code
	errs []error
}{
	{codes.NotFound, []error{version.ErrVersionNotFound, branch.ErrBranchNotFound, blob.ErrNotFound, compare.ErrNotFound, retention.ErrPolicyNotFound}},
	{codes.AlreadyExists, []error{branch.ErrBranchExists}},
	{codes.PermissionDenied, []error{engine.ErrPermissionDenied, branch.ErrBranchProtected, version.ErrBaselineProtected}},
	{codes.FailedPrecondition, []error{lock.ErrLockConflict, branch.ErrBranchClosed, version.ErrVersionDeleted, version.ErrContentImmutable, branch.ErrStrategyNotAllowed}},
	{codes.Aborted, []error{merge.ErrUnresolvedConflicts}},
	{codes.InvalidArgument, []error{
		engine.ErrInvalidRequest, version.ErrInvalidVersion, branch.ErrInvalidBranch, lock.ErrInvalidLock,
		merge.ErrInvalidStrategy, merge.ErrInvalidResolution, retention.ErrInvalidPolicy, compare.ErrInvalidRequest,
	}},
	{codes.Unavailable, []error{blob.ErrStorageFailure, compare.ErrClosed}},
	{codes.DeadlineExceeded, []error{context.DeadlineExceeded}},
	{codes.Canceled, []error{context.Canceled}},
	{codes.Internal, []error{version.ErrCircularDependency, version.ErrSequenceViolation, storage.ErrCorruptRecord}},
}

// toStatus maps engine errors to gRPC status errors. A blocked merge carries
// its conflicts as a status detail.
func toStatus(err error) error {
	var conflictErr *merge.ConflictError
	if errors.As(err, &conflictErr) {
		st := status.New(codes.Aborted, err.Error())
		detail, derr := toStruct(ConflictsResponse{Conflicts: conflictErr.Conflicts})
		if derr == nil {
			if withDetail, werr := st.WithDetails(detail); werr == nil {
				st = withDetail
			}
		}
		return st.Err()
	}

	for _, c := range codeOf {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return status.Error(c.code, err.Error())
			}
		}
	}
	return status.Error(codes.Internal, err.Error())
}
