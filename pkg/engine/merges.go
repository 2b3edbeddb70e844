package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nainya/docrev/pkg/branch"
	"github.com/nainya/docrev/pkg/merge"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// MergeRequest merges the head of one branch into another
type MergeRequest struct {
	DocumentID   string
	SourceBranch string
	TargetBranch string
	// Strategy defaults to the target branch policy's default
	Strategy    merge.Strategy
	Resolutions []merge.Resolution
	Actor       string
	Description string
}

// MergeResult reports the merge request and, when it completed, the merge version
type MergeResult struct {
	Request   *merge.Request
	Version   *version.Version
	Conflicts []merge.Conflict
}

// mergeHeads is what a merge reads before touching content
type mergeHeads struct {
	source, target       *branch.Branch
	sourceHead, baseHead *version.Version
	ancestor             *version.Version
	strategy             merge.Strategy
}

// MergeBranch merges source into target. When the merge is blocked by
// conflicts the returned error is a *merge.ConflictError carrying the conflict
// list, and nothing is written.
func (e *Engine) MergeBranch(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if req.DocumentID == "" || req.Actor == "" {
		return nil, fmt.Errorf("%w: document and actor are required", ErrInvalidRequest)
	}
	if req.SourceBranch == "" || req.TargetBranch == "" || req.SourceBranch == req.TargetBranch {
		return nil, fmt.Errorf("%w: source and target must be two different branches", ErrInvalidRequest)
	}

	defer e.enterDocument(req.DocumentID)()

	var h *mergeHeads
	err := e.db.View(func(tx *storage.Tx) error {
		if err := e.checkWrite(tx, req.DocumentID, req.Actor); err != nil {
			return err
		}
		var err error
		h, err = e.readHeads(tx, req.DocumentID, req.SourceBranch, req.TargetBranch)
		if err != nil {
			return err
		}

		h.strategy = req.Strategy
		if h.strategy == "" {
			h.strategy = h.target.MergePolicy.DefaultStrategy
		}
		if !h.strategy.Valid() {
			return fmt.Errorf("%w: %q", merge.ErrInvalidStrategy, h.strategy)
		}
		if !h.target.MergePolicy.Allows(h.strategy) {
			return fmt.Errorf("%w: %s into %s", branch.ErrStrategyNotAllowed, h.strategy, h.target.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mr := merge.NewRequest(uuid.NewString(), h.source.Name, h.target.Name, h.strategy)
	result := &MergeResult{Request: mr}
	fail := func(err error) (*MergeResult, error) {
		mr.Fail(err)
		e.log.Info().Err(err).Str("document_id", req.DocumentID).Str("merge_id", mr.ID).
			Str("source", h.source.Name).Str("target", h.target.Name).Str("state", string(mr.State)).Msg("merge did not complete")
		return result, err
	}

	if err := mr.Transition(merge.StateConflictCheck); err != nil {
		return fail(err)
	}

	ancestor, source, target, err := e.mergeContents(ctx, h)
	if err != nil {
		return fail(err)
	}

	in := merge.Input{
		Ancestor:    ancestor,
		Source:      source,
		Target:      target,
		Strategy:    h.strategy,
		Resolutions: req.Resolutions,
	}
	if h.target.MergePolicy.RequireNoConflicts {
		if conflicts := merge.DetectConflicts(ancestor, source, target); len(conflicts) > 0 {
			return e.block(mr, result, &merge.ConflictError{Conflicts: conflicts})
		}
	}

	merged, err := merge.Merge(in)
	var conflictErr *merge.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		return e.block(mr, result, conflictErr)
	case err != nil:
		return fail(err)
	}
	mr.Conflicts = merged.Conflicts
	result.Conflicts = merged.Conflicts

	if err := mr.Transition(merge.StateMerging); err != nil {
		return fail(err)
	}

	changes, err := e.analyzer.Analyze(ctx, target, merged.Content)
	if err != nil {
		return fail(fmt.Errorf("analyze merge result: %w", err))
	}

	info := &version.MergeInfo{
		SourceVersionIDs: []string{h.sourceHead.ID},
		TargetVersionID:  h.baseHead.ID,
		SourceBranch:     h.source.Name,
		TargetBranch:     h.target.Name,
		Strategy:         merged.Strategy,
		Conflicts:        merged.Conflicts,
		Resolutions:      merged.Resolutions,
	}
	if h.ancestor != nil {
		info.AncestorVersionID = h.ancestor.ID
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Merge %s into %s", h.source.Name, h.target.Name)
	}

	markMerged := h.target.MergePolicy.MarkSourceMerged && !h.source.IsProtected && h.source.Name != version.MainBranch
	d := &draft{
		content: merged.Content,
		parent:  h.baseHead,
		branch:  h.target,
		v: &version.Version{
			DocumentID:   req.DocumentID,
			DocumentType: h.baseHead.DocumentType,
			BranchName:   h.target.Name,
			Status:       version.StatusActive,
			Changes:      changes,
			MergeInfo:    info,
			Description:  description,
			CreatedBy:    req.Actor,
		},
		after: func(tx *storage.Tx, _ *version.Version) error {
			if !markMerged {
				return nil
			}
			return e.branches.Close(tx, h.source, branch.StatusMerged, h.target.Name)
		},
	}

	v, err := e.commit(ctx, d)
	if err != nil {
		return fail(err)
	}
	if err := mr.Transition(merge.StateCompleted); err != nil {
		return fail(err)
	}
	result.Version = v

	e.emit(ctx, notify.VersionCreated, v.DocumentID, req.Actor, v)
	e.emit(ctx, notify.BranchMerged, v.DocumentID, req.Actor, map[string]any{
		"source_branch":    h.source.Name,
		"target_branch":    h.target.Name,
		"merge_version_id": v.ID,
		"strategy":         merged.Strategy,
		"conflicts":        len(merged.Conflicts),
	})
	e.enforceRetention(ctx, v.DocumentID)
	return result, nil
}

// block parks the request in the blocked state with the conflicts that stopped it
func (e *Engine) block(mr *merge.Request, result *MergeResult, cerr *merge.ConflictError) (*MergeResult, error) {
	mr.Conflicts = cerr.Conflicts
	result.Conflicts = cerr.Conflicts
	if err := mr.Transition(merge.StateBlocked); err != nil {
		mr.Fail(err)
		return result, err
	}
	return result, cerr
}

// DetectConflicts previews the conflicts a merge of source into target would meet
func (e *Engine) DetectConflicts(ctx context.Context, documentID, sourceBranch, targetBranch string) ([]merge.Conflict, error) {
	var h *mergeHeads
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		h, err = e.readHeads(tx, documentID, sourceBranch, targetBranch)
		return err
	})
	if err != nil {
		return nil, err
	}

	ancestor, source, target, err := e.mergeContents(ctx, h)
	if err != nil {
		return nil, err
	}
	return merge.DetectConflicts(ancestor, source, target), nil
}

func (e *Engine) readHeads(tx *storage.Tx, documentID, sourceName, targetName string) (*mergeHeads, error) {
	source, err := e.branches.GetByName(tx, documentID, sourceName)
	if err != nil {
		return nil, err
	}
	target, err := e.branches.GetByName(tx, documentID, targetName)
	if err != nil {
		return nil, err
	}
	for _, b := range []*branch.Branch{source, target} {
		if b.Closed() {
			return nil, fmt.Errorf("%w: %s is %s", branch.ErrBranchClosed, b.Name, b.Status)
		}
	}

	h := &mergeHeads{source: source, target: target}
	if h.sourceHead, err = e.liveVersion(tx, source.HeadVersionID); err != nil {
		return nil, fmt.Errorf("head of %s: %w", source.Name, err)
	}
	if h.baseHead, err = e.liveVersion(tx, target.HeadVersionID); err != nil {
		return nil, fmt.Errorf("head of %s: %w", target.Name, err)
	}
	if h.ancestor, err = e.commonAncestor(tx, h.sourceHead, h.baseHead); err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Engine) mergeContents(ctx context.Context, h *mergeHeads) (ancestor, source, target []byte, err error) {
	if h.ancestor != nil {
		if ancestor, err = e.load(ctx, h.ancestor); err != nil {
			return nil, nil, nil, fmt.Errorf("content of ancestor %s: %w", h.ancestor.ID, err)
		}
	}
	if source, err = e.load(ctx, h.sourceHead); err != nil {
		return nil, nil, nil, fmt.Errorf("content of %s: %w", h.sourceHead.ID, err)
	}
	if target, err = e.load(ctx, h.baseHead); err != nil {
		return nil, nil, nil, fmt.Errorf("content of %s: %w", h.baseHead.ID, err)
	}
	return ancestor, source, target, nil
}

// commonAncestor returns the highest numbered version reachable from both a
// and b through parent and merge-source edges, or nil when there is none
func (e *Engine) commonAncestor(tx *storage.Tx, a, b *version.Version) (*version.Version, error) {
	fromA, err := e.reachable(tx, a)
	if err != nil {
		return nil, err
	}
	fromB, err := e.reachable(tx, b)
	if err != nil {
		return nil, err
	}

	var best *version.Version
	for id, v := range fromA {
		if _, ok := fromB[id]; !ok {
			continue
		}
		if best == nil || v.VersionNumber > best.VersionNumber {
			best = v
		}
	}
	return best, nil
}

// reachable walks the ancestry of v breadth first, v included
func (e *Engine) reachable(tx *storage.Tx, v *version.Version) (map[string]*version.Version, error) {
	seen := map[string]*version.Version{v.ID: v}
	queue := []*version.Version{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, id := range version.Ancestors(cur) {
			if _, ok := seen[id]; ok {
				continue
			}
			anc, err := e.versions.Get(tx, id)
			if err != nil {
				return nil, fmt.Errorf("ancestry of %s: %w", v.ID, err)
			}
			if anc.VersionNumber >= cur.VersionNumber {
				return nil, fmt.Errorf("%w: %s descends from %s", version.ErrCircularDependency, cur.ID, anc.ID)
			}
			seen[id] = anc
			queue = append(queue, anc)
		}
	}
	return seen, nil
}
