package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/change"
	"github.com/nainya/docrev/pkg/lock"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// CreateVersionRequest describes a new revision of a document
type CreateVersionRequest struct {
	DocumentID   string
	DocumentType string
	Content      []byte
	Actor        string

	// Branch defaults to main, which is created with the first version
	Branch string
	// ParentVersionID defaults to the branch head
	ParentVersionID string
	// Detached starts a baseline with no parent
	Detached bool

	// Changes, when non-nil, replace the analyzer's output
	Changes []change.Change

	Status      version.Status // draft, active (default) or pending_approval
	IsBaseline  bool
	IsSnapshot  bool
	Tags        []string
	Description string
	Metadata    map[string]string
}

func (r *CreateVersionRequest) validate() error {
	switch {
	case r.DocumentID == "":
		return fmt.Errorf("%w: document id is required", ErrInvalidRequest)
	case r.Actor == "":
		return fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	case r.Detached && r.ParentVersionID != "":
		return fmt.Errorf("%w: a detached version cannot name a parent", ErrInvalidRequest)
	case r.Detached && !r.IsBaseline:
		return fmt.Errorf("%w: only baselines may be detached", ErrInvalidRequest)
	}
	if r.Branch == "" {
		r.Branch = version.MainBranch
	}
	switch r.Status {
	case "":
		r.Status = version.StatusActive
	case version.StatusDraft, version.StatusActive, version.StatusPendingApproval:
	default:
		return fmt.Errorf("%w: a new version cannot start as %q", ErrInvalidRequest, r.Status)
	}
	return nil
}

// draft is a version waiting for its number, semantic version and storage key
type draft struct {
	v       *version.Version
	parent  *version.Version // nil for a first or detached version
	branch  *branch.Branch   // nil when main must be created
	content []byte
	// after runs inside the write transaction once the version and head are stored
	after func(tx *storage.Tx, v *version.Version) error
}

// CreateVersion writes a new version on a branch and moves the branch head to it
func (e *Engine) CreateVersion(ctx context.Context, req CreateVersionRequest) (*version.Version, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	defer e.enterDocument(req.DocumentID)()

	d := &draft{
		content: req.Content,
		v: &version.Version{
			DocumentID:   req.DocumentID,
			DocumentType: req.DocumentType,
			BranchName:   req.Branch,
			Status:       req.Status,
			IsBaseline:   req.IsBaseline,
			IsSnapshot:   req.IsSnapshot,
			Tags:         slices.Clone(req.Tags),
			Description:  req.Description,
			Metadata:     req.Metadata,
			CreatedBy:    req.Actor,
		},
	}

	err := e.db.View(func(tx *storage.Tx) error {
		if err := e.checkWrite(tx, req.DocumentID, req.Actor); err != nil {
			return err
		}

		b, err := e.branches.GetByName(tx, req.DocumentID, req.Branch)
		switch {
		case errors.Is(err, branch.ErrBranchNotFound) && req.Branch == version.MainBranch:
		case err != nil:
			return err
		case b.Closed():
			return fmt.Errorf("%w: %s is %s", branch.ErrBranchClosed, b.Name, b.Status)
		case b.IsProtected && !e.perms.CanManage(req.Actor, req.DocumentID):
			return fmt.Errorf("%w: %s", branch.ErrBranchProtected, b.Name)
		default:
			d.branch = b
		}

		parentID := req.ParentVersionID
		if parentID == "" && !req.Detached && d.branch != nil {
			parentID = d.branch.HeadVersionID
		}
		if parentID == "" {
			return nil
		}
		d.parent, err = e.liveVersion(tx, parentID)
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		if d.parent.DocumentID != req.DocumentID {
			return fmt.Errorf("parent %s belongs to %s: %w", parentID, d.parent.DocumentID, version.ErrVersionNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.v.Changes = req.Changes
	if d.v.Changes == nil {
		if d.v.Changes, err = e.analyze(ctx, d.parent, req.Content); err != nil {
			return nil, err
		}
	}

	v, err := e.commit(ctx, d)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, notify.VersionCreated, v.DocumentID, v.CreatedBy, v)
	e.enforceRetention(ctx, v.DocumentID)
	return v, nil
}

// analyze compares content with the parent's stored content
func (e *Engine) analyze(ctx context.Context, parent *version.Version, content []byte) ([]change.Change, error) {
	if parent == nil {
		return []change.Change{}, nil
	}
	prev, err := e.load(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("content of parent %s: %w", parent.ID, err)
	}
	changes, err := e.analyzer.Analyze(ctx, prev, content)
	if err != nil {
		return nil, fmt.Errorf("analyze changes: %w", err)
	}
	return changes, nil
}

// commit stores the content, then numbers and writes the version and moves the
// head in one transaction. A failed transaction leaves only an unreferenced
// content-addressed blob behind.
func (e *Engine) commit(ctx context.Context, d *draft) (*version.Version, error) {
	key, err := e.blobs.Put(ctx, d.content)
	if err != nil {
		return nil, err
	}

	v := d.v
	v.ID = uuid.NewString()
	v.StorageKey = key
	v.Checksum = blob.Checksum(d.content)
	v.SizeBytes = int64(len(d.content))
	v.ChangesSummary = change.Summarize(v.Changes)
	v.CreatedAt = e.now()
	v.UpdatedAt = v.CreatedAt

	var parentSemVer *version.SemVer
	if d.parent != nil {
		v.ParentVersionID = d.parent.ID
		parentSemVer = &d.parent.SemanticVersion
	}
	v.SemanticVersion = version.Derive(parentSemVer, v.Changes)

	err = e.db.Update(func(tx *storage.Tx) error {
		number, err := e.versions.NextNumber(tx, v.DocumentID)
		if err != nil {
			return err
		}
		v.VersionNumber = number
		if err := e.versions.Create(tx, v); err != nil {
			return err
		}

		b := d.branch
		if b == nil {
			b = &branch.Branch{
				ID:          uuid.NewString(),
				Name:        version.MainBranch,
				DocumentID:  v.DocumentID,
				MergePolicy: branch.DefaultPolicy(),
				CreatedBy:   v.CreatedBy,
				CreatedAt:   v.CreatedAt,
				UpdatedAt:   v.CreatedAt,
			}
			if err := e.branches.Create(tx, b); err != nil {
				return err
			}
		}
		if err := e.branches.UpdateHead(tx, b, v); err != nil {
			return err
		}

		if d.after != nil {
			return d.after(tx, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// checkWrite applies the document lock gate
func (e *Engine) checkWrite(tx *storage.Tx, documentID, actor string) error {
	l, err := e.locks.Active(tx, documentID)
	if err != nil {
		return err
	}
	return lock.CheckWrite(l, actor)
}

// liveVersion loads a version that is not deleted
func (e *Engine) liveVersion(tx *storage.Tx, id string) (*version.Version, error) {
	v, err := e.versions.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if v.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", version.ErrVersionDeleted, id)
	}
	return v, nil
}

// GetVersion returns a version, deleted ones included
func (e *Engine) GetVersion(ctx context.Context, id string) (*version.Version, error) {
	var v *version.Version
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		v, err = e.versions.Get(tx, id)
		return err
	})
	return v, err
}

// ListVersions returns a document's versions, newest first by default
func (e *Engine) ListVersions(ctx context.Context, documentID string, f version.Filter) ([]*version.Version, error) {
	var out []*version.Version
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		out, err = e.versions.List(tx, documentID, f)
		return err
	})
	return out, err
}

// GetDocument returns the registry entry of a document
func (e *Engine) GetDocument(ctx context.Context, documentID string) (*version.Document, error) {
	var doc *version.Document
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		doc, err = e.versions.Document(tx, documentID)
		return err
	})
	return doc, err
}

// GetContent returns the stored bytes of a live version
func (e *Engine) GetContent(ctx context.Context, id string) ([]byte, error) {
	return e.content(ctx, id)
}

func (e *Engine) content(ctx context.Context, id string) ([]byte, error) {
	var v *version.Version
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		v, err = e.liveVersion(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.load(ctx, v)
}

// load reads a version's stored content. Empty content comes back as an empty
// slice, never nil, since analyzers read nil as "no parent".
func (e *Engine) load(ctx context.Context, v *version.Version) ([]byte, error) {
	data, err := e.blobs.Get(ctx, v.StorageKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// UpdateVersion changes the administrative fields of a version. Only the
// creator or a manager may do so; approval and clearing the baseline flag
// need manage permission.
func (e *Engine) UpdateVersion(ctx context.Context, id string, patch version.Patch, actor string) (*version.Version, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidRequest)
	}
	if patch.Status != nil && *patch.Status == version.StatusDeleted {
		return nil, fmt.Errorf("%w: use DeleteVersion to delete", ErrInvalidRequest)
	}

	documentID, err := e.documentOf(id)
	if err != nil {
		return nil, err
	}
	defer e.enterDocument(documentID)()

	var updated *version.Version
	err = e.db.Update(func(tx *storage.Tx) error {
		v, err := e.liveVersion(tx, id)
		if err != nil {
			return err
		}

		manager := e.perms.CanManage(actor, v.DocumentID)
		switch {
		case v.CreatedBy != actor && !manager:
			return fmt.Errorf("%w: %s may not update %s", ErrPermissionDenied, actor, id)
		case patch.Approve && !manager:
			return fmt.Errorf("%w: approving %s needs manage permission", ErrPermissionDenied, id)
		case v.IsBaseline && patch.IsBaseline != nil && !*patch.IsBaseline && !manager:
			return fmt.Errorf("%w: %s", version.ErrBaselineProtected, id)
		}

		patch.Apply(v, actor, e.now())
		v.UpdatedAt = e.now()
		if err := e.versions.Update(tx, v); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, notify.VersionUpdated, updated.DocumentID, actor, updated)
	return updated, nil
}

// DeleteVersion soft-deletes a version. Baselines cannot be deleted. Branches
// whose head it was fall back to their newest live version.
func (e *Engine) DeleteVersion(ctx context.Context, id, actor string) error {
	documentID, err := e.documentOf(id)
	if err != nil {
		return err
	}
	defer e.enterDocument(documentID)()

	err = e.db.Update(func(tx *storage.Tx) error {
		v, err := e.liveVersion(tx, id)
		if err != nil {
			return err
		}
		if v.IsBaseline {
			return fmt.Errorf("%w: %s", version.ErrBaselineProtected, id)
		}
		if v.CreatedBy != actor && !e.perms.CanDelete(actor, v.DocumentID) {
			return fmt.Errorf("%w: %s may not delete %s", ErrPermissionDenied, actor, id)
		}
		if err := e.checkWrite(tx, v.DocumentID, actor); err != nil {
			return err
		}

		now := e.now()
		v.Status = version.StatusDeleted
		v.DeletedBy = actor
		v.DeletedAt = &now
		v.UpdatedAt = now
		if err := e.versions.Update(tx, v); err != nil {
			return err
		}
		return e.rewindHeads(tx, v)
	})
	if err != nil {
		return err
	}

	e.emit(ctx, notify.VersionDeleted, documentID, actor, map[string]string{"version_id": id})
	return nil
}

// rewindHeads moves every branch headed by the deleted version to its newest live version
func (e *Engine) rewindHeads(tx *storage.Tx, deleted *version.Version) error {
	branches, err := e.branches.List(tx, deleted.DocumentID)
	if err != nil {
		return err
	}
	for _, b := range branches {
		// Closed branches keep their final head as history
		if b.HeadVersionID != deleted.ID || b.Closed() {
			continue
		}
		var head *version.Version
		for i := len(b.Versions) - 1; i >= 0 && head == nil; i-- {
			v, err := e.versions.Get(tx, b.Versions[i])
			if err != nil {
				return err
			}
			if !v.IsDeleted() {
				head = v
			}
		}
		if head == nil {
			err = e.branches.ClearHead(tx, b)
		} else {
			err = e.branches.UpdateHead(tx, b, head)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// documentOf reads the document a version belongs to
func (e *Engine) documentOf(versionID string) (string, error) {
	var documentID string
	err := e.db.View(func(tx *storage.Tx) error {
		v, err := e.versions.Get(tx, versionID)
		if err != nil {
			return err
		}
		documentID = v.DocumentID
		return nil
	})
	return documentID, err
}
