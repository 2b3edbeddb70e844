// Integration tests for the docrev gRPC server
package server

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/docrev/internal/logger"
	"github.com/nainya/docrev/internal/metrics"
	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/engine"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

const bufSize = 1024 * 1024

type testEnv struct {
	client  *Client
	metrics *metrics.Metrics
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "docrev.db"), storage.Options{NoSync: true})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	m := metrics.New()
	eng, err := engine.New(db, blob.NewMemoryStore(), engine.Options{
		Permissions: engine.StaticPermissions{Managers: []string{"admin"}},
		Notifier:    m,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	log := logger.Nop()
	lis := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, log)))
	NewServer(eng, m, log).Register(grpcServer)
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
		eng.Close()
		db.Close()
	})
	return &testEnv{client: NewClient(conn), metrics: m}
}

func TestCreateAndReadVersions(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	v1, err := env.client.CreateVersion(ctx, &CreateVersionRequest{
		DocumentID:   "doc1",
		DocumentType: "contract",
		Content:      []byte("first line\n"),
		Actor:        "alice",
		Tags:         []string{"draft-review"},
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if v1.VersionNumber != 1 || v1.BranchName != version.MainBranch {
		t.Errorf("unexpected first version: %+v", v1)
	}

	v2, err := env.client.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc1", Content: []byte("second line\n"), Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if v2.ParentVersionID != v1.ID {
		t.Errorf("parent: got %q, want %q", v2.ParentVersionID, v1.ID)
	}

	got, err := env.client.GetVersion(ctx, v1.ID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if got.Checksum != v1.Checksum || !got.CreatedAt.Equal(v1.CreatedAt) {
		t.Errorf("GetVersion returned %+v", got)
	}

	content, err := env.client.GetContent(ctx, v2.ID)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if string(content) != "second line\n" {
		t.Errorf("content: got %q", content)
	}

	list, err := env.client.ListVersions(ctx, &ListVersionsRequest{DocumentID: "doc1", Ascending: true})
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != v1.ID {
		t.Errorf("ListVersions returned %d versions", len(list))
	}

	doc, err := env.client.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.VersionCount != 2 || doc.Type != "contract" {
		t.Errorf("document: %+v", doc)
	}

	health, err := env.client.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Documents != 1 || health.Versions != 2 {
		t.Errorf("health: %+v", health)
	}
}

func TestErrorCodes(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	base, err := env.client.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc1", Content: []byte("a\n"), Actor: "alice", IsBaseline: true})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if _, err := env.client.LockDocument(ctx, &LockRequest{DocumentID: "doc1", Actor: "bob", Type: lock.TypeExclusive}); err != nil {
		t.Fatalf("LockDocument failed: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"missing version", func() error {
			_, err := env.client.GetVersion(ctx, "nope")
			return err
		}, codes.NotFound},
		{"baseline delete", func() error {
			return env.client.DeleteVersion(ctx, base.ID, "admin")
		}, codes.PermissionDenied},
		{"locked document", func() error {
			_, err := env.client.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc1", Content: []byte("b\n"), Actor: "alice"})
			return err
		}, codes.FailedPrecondition},
		{"duplicate branch", func() error {
			_, err := env.client.CreateBranch(ctx, &CreateBranchRequest{DocumentID: "doc1", Name: version.MainBranch, Actor: "alice"})
			return err
		}, codes.AlreadyExists},
		{"missing actor", func() error {
			_, err := env.client.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc2", Content: []byte("x\n")})
			return err
		}, codes.InvalidArgument},
		{"bad policy", func() error {
			return env.client.SetRetentionPolicy(ctx, "memo", retention.Policy{MaxVersions: -1})
		}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	notFound := testutil.ToFloat64(env.metrics.GrpcRequestsTotal.WithLabelValues("/"+ServiceName+"/GetVersion", codes.NotFound.String()))
	if notFound != 1 {
		t.Errorf("interceptor recorded %v NotFound GetVersion calls", notFound)
	}
}

func TestActorFromMetadata(t *testing.T) {
	env := setupTestServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), ActorHeader, "carol")

	v, err := env.client.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc1", Content: []byte("a\n")})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if v.CreatedBy != "carol" {
		t.Errorf("created by: got %q", v.CreatedBy)
	}
}

func TestMergeConflictsTravelAsDetails(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	c := env.client

	create := func(branchName, content string) {
		t.Helper()
		_, err := c.CreateVersion(ctx, &CreateVersionRequest{DocumentID: "doc1", Branch: branchName, Content: []byte(content), Actor: "alice"})
		if err != nil {
			t.Fatalf("CreateVersion failed: %v", err)
		}
	}
	create("", "title\nbody\nend\n")
	if _, err := c.CreateBranch(ctx, &CreateBranchRequest{DocumentID: "doc1", Name: "feature", Actor: "alice"}); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	create("feature", "title\nfeature body\nend\n")
	create("", "title\nmain body\nend\n")

	preview, err := c.DetectConflicts(ctx, "doc1", "feature", version.MainBranch)
	if err != nil {
		t.Fatalf("DetectConflicts failed: %v", err)
	}
	if len(preview) != 1 {
		t.Fatalf("expected one conflict, got %d", len(preview))
	}

	_, err = c.MergeBranch(ctx, &MergeRequest{
		DocumentID:   "doc1",
		SourceBranch: "feature",
		TargetBranch: version.MainBranch,
		Strategy:     merge.StrategyAuto,
		Actor:        "alice",
	})
	var cerr *merge.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a conflict error, got %v", err)
	}
	if len(cerr.Conflicts) != 1 || cerr.Conflicts[0].ID != preview[0].ID {
		t.Errorf("conflicts: %+v", cerr.Conflicts)
	}

	res, err := c.MergeBranch(ctx, &MergeRequest{
		DocumentID:   "doc1",
		SourceBranch: "feature",
		TargetBranch: version.MainBranch,
		Strategy:     merge.StrategyManual,
		Resolutions:  []merge.Resolution{{ConflictID: preview[0].ID, Choice: merge.ChoiceTheirs}},
		Actor:        "alice",
	})
	if err != nil {
		t.Fatalf("MergeBranch failed: %v", err)
	}
	if res.State != merge.StateCompleted || res.Version == nil || res.Version.MergeInfo == nil {
		t.Fatalf("merge response: %+v", res)
	}

	content, err := c.GetContent(ctx, res.Version.ID)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if string(content) != "title\nfeature body\nend\n" {
		t.Errorf("merged content: %q", content)
	}
}

func TestLocksAndRetention(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	c := env.client

	ttl := 60.0
	l, err := c.LockDocument(ctx, &LockRequest{DocumentID: "doc1", Actor: "bob", Type: lock.TypeShared, TTLSeconds: &ttl, AllowedUsers: []string{"carol"}})
	if err != nil {
		t.Fatalf("LockDocument failed: %v", err)
	}
	if l.ExpiresAt == nil || !l.Permits("carol") {
		t.Errorf("lock: %+v", l)
	}

	released, err := c.UnlockDocument(ctx, "doc1", "mallory")
	if err != nil || released {
		t.Errorf("stranger unlock: released=%v err=%v", released, err)
	}
	if released, err = c.UnlockDocument(ctx, "doc1", "admin"); err != nil || !released {
		t.Errorf("manager unlock: released=%v err=%v", released, err)
	}
	if l, err := c.GetLock(ctx, "doc1"); err != nil || l != nil {
		t.Errorf("GetLock after unlock: %+v, %v", l, err)
	}

	policy := retention.Policy{MaxVersions: 2, ArchiveOldVersions: true}
	if err := c.SetRetentionPolicy(ctx, "memo*", policy); err != nil {
		t.Fatalf("SetRetentionPolicy failed: %v", err)
	}
	got, err := c.GetRetentionPolicy(ctx, "memo-internal")
	if err != nil || got != policy {
		t.Errorf("GetRetentionPolicy: %+v, %v", got, err)
	}
	all, err := c.ListRetentionPolicies(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListRetentionPolicies: %v, %v", all, err)
	}
	if err := c.DeleteRetentionPolicy(ctx, "memo*"); err != nil {
		t.Fatalf("DeleteRetentionPolicy failed: %v", err)
	}
	if _, err := c.GetRetentionPolicy(ctx, "memo-internal"); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestObservabilityEndpoints(t *testing.T) {
	m := metrics.New()
	ready := func(context.Context) error { return errors.New("warming up") }
	obs := NewObservabilityServer(":0", m, ready, logger.Nop())

	for path, want := range map[string]int{"/health": 200, "/ready": 503, "/metrics": 200} {
		rec := httptest.NewRecorder()
		obs.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("%s: got %d, want %d", path, rec.Code, want)
		}
		if path == "/metrics" && !strings.Contains(rec.Body.String(), "docrev_server_uptime_seconds") {
			t.Error("/metrics lacks the uptime gauge")
		}
	}
}
