package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// CreateBranchRequest forks a new branch from a version
type CreateBranchRequest struct {
	DocumentID string
	Name       string
	// BaseVersionID defaults to the head of main
	BaseVersionID string
	Actor         string
	Protected     bool
	Policy        *branch.MergePolicy
}

// CreateBranch forks a branch whose head starts at the base version
func (e *Engine) CreateBranch(ctx context.Context, req CreateBranchRequest) (*branch.Branch, error) {
	if req.DocumentID == "" || req.Actor == "" {
		return nil, fmt.Errorf("%w: document and actor are required", ErrInvalidRequest)
	}
	if err := branch.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.Protected && !e.perms.CanManage(req.Actor, req.DocumentID) {
		return nil, fmt.Errorf("%w: protecting %s needs manage permission", ErrPermissionDenied, req.Name)
	}
	policy := branch.DefaultPolicy()
	if req.Policy != nil {
		policy = *req.Policy
		if policy.DefaultStrategy == "" {
			policy.DefaultStrategy = branch.DefaultPolicy().DefaultStrategy
		}
		if !policy.Allows(policy.DefaultStrategy) {
			return nil, fmt.Errorf("%w: default strategy %q is not allowed by the policy", ErrInvalidRequest, policy.DefaultStrategy)
		}
	}

	defer e.enterDocument(req.DocumentID)()

	var created *branch.Branch
	err := e.db.Update(func(tx *storage.Tx) error {
		baseID := req.BaseVersionID
		if baseID == "" {
			main, err := e.branches.GetByName(tx, req.DocumentID, version.MainBranch)
			if err != nil {
				return err
			}
			baseID = main.HeadVersionID
		}
		base, err := e.liveVersion(tx, baseID)
		if err != nil {
			return fmt.Errorf("base: %w", err)
		}
		if base.DocumentID != req.DocumentID {
			return fmt.Errorf("base %s belongs to %s: %w", baseID, base.DocumentID, version.ErrVersionNotFound)
		}

		now := e.now()
		b := &branch.Branch{
			ID:            uuid.NewString(),
			Name:          req.Name,
			DocumentID:    req.DocumentID,
			BaseVersionID: base.ID,
			HeadVersionID: base.ID,
			HeadNumber:    base.VersionNumber,
			Versions:      []string{base.ID},
			Status:        branch.StatusActive,
			IsProtected:   req.Protected,
			MergePolicy:   policy,
			CreatedBy:     req.Actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.branches.Create(tx, b); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, notify.BranchCreated, req.DocumentID, req.Actor, created)
	return created, nil
}

// GetBranches lists a document's branches ordered by name
func (e *Engine) GetBranches(ctx context.Context, documentID string) ([]*branch.Branch, error) {
	var out []*branch.Branch
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		out, err = e.branches.List(tx, documentID)
		return err
	})
	return out, err
}

// GetBranch returns one branch by name
func (e *Engine) GetBranch(ctx context.Context, documentID, name string) (*branch.Branch, error) {
	var b *branch.Branch
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		b, err = e.branches.GetByName(tx, documentID, name)
		return err
	})
	return b, err
}

// AbandonBranch closes a branch without merging it. Main cannot be abandoned
// and a protected branch needs manage permission.
func (e *Engine) AbandonBranch(ctx context.Context, documentID, name, actor string) (*branch.Branch, error) {
	if name == version.MainBranch {
		return nil, fmt.Errorf("%w: %s cannot be abandoned", ErrInvalidRequest, name)
	}

	defer e.enterDocument(documentID)()

	var b *branch.Branch
	err := e.db.Update(func(tx *storage.Tx) error {
		var err error
		b, err = e.branches.GetByName(tx, documentID, name)
		if err != nil {
			return err
		}
		manager := e.perms.CanManage(actor, documentID)
		switch {
		case b.IsProtected && !manager:
			return fmt.Errorf("%w: %s", branch.ErrBranchProtected, name)
		case b.CreatedBy != actor && !manager:
			return fmt.Errorf("%w: %s may not abandon %s", ErrPermissionDenied, actor, name)
		}
		return e.branches.Close(tx, b, branch.StatusAbandoned, "")
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, notify.BranchAbandoned, documentID, actor, b)
	return b, nil
}

// ProtectBranch turns branch protection on or off. Requires manage permission.
func (e *Engine) ProtectBranch(ctx context.Context, documentID, name string, protected bool, actor string) (*branch.Branch, error) {
	if !e.perms.CanManage(actor, documentID) {
		return nil, fmt.Errorf("%w: %s may not change protection of %s", ErrPermissionDenied, actor, name)
	}

	defer e.enterDocument(documentID)()

	var b *branch.Branch
	err := e.db.Update(func(tx *storage.Tx) error {
		var err error
		b, err = e.branches.GetByName(tx, documentID, name)
		if err != nil {
			return err
		}
		return e.branches.SetProtected(tx, b, protected)
	})
	return b, err
}
