package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/retention"
	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// SetRetentionPolicy stores the policy for a document type or type pattern
func (e *Engine) SetRetentionPolicy(ctx context.Context, documentType string, p retention.Policy) error {
	return e.db.Update(func(tx *storage.Tx) error {
		return e.policies.Set(tx, documentType, p)
	})
}

// DeleteRetentionPolicy removes the policy stored under a document type or pattern
func (e *Engine) DeleteRetentionPolicy(ctx context.Context, documentType string) error {
	return e.db.Update(func(tx *storage.Tx) error {
		return e.policies.Delete(tx, documentType)
	})
}

// RetentionPolicy resolves the policy that applies to a document type
func (e *Engine) RetentionPolicy(ctx context.Context, documentType string) (retention.Policy, error) {
	var p retention.Policy
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		p, err = e.policies.Resolve(tx, documentType)
		return err
	})
	return p, err
}

// RetentionPolicies lists every stored policy by type or pattern
func (e *Engine) RetentionPolicies(ctx context.Context) (map[string]retention.Policy, error) {
	var out map[string]retention.Policy
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		out, err = e.policies.All(tx)
		return err
	})
	return out, err
}

// ApplyRetention runs the retention pass for one document under its critical section
func (e *Engine) ApplyRetention(ctx context.Context, documentID string) ([]*version.Version, error) {
	defer e.enterDocument(documentID)()
	return e.retain(ctx, documentID)
}

// SweepRetention applies retention to every document. A failing document is
// logged and skipped; the sweep carries on with the rest.
func (e *Engine) SweepRetention(ctx context.Context) (int, error) {
	var docs []*version.Document
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		docs, err = e.versions.Documents(tx)
		return err
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		vs, err := e.ApplyRetention(ctx, doc.ID)
		if err != nil {
			e.log.Error().Err(err).Str("document_id", doc.ID).Msg("retention failed, retrying next cycle")
			errs = append(errs, fmt.Errorf("%s: %w", doc.ID, err))
			continue
		}
		changed += len(vs)
	}
	return changed, errors.Join(errs...)
}

// enforceRetention runs the post-write retention pass; the caller holds the
// document's critical section
func (e *Engine) enforceRetention(ctx context.Context, documentID string) {
	if _, err := e.retain(ctx, documentID); err != nil {
		e.log.Error().Err(err).Str("document_id", documentID).Msg("retention after write failed")
	}
}

func (e *Engine) retain(ctx context.Context, documentID string) ([]*version.Version, error) {
	var changed []*version.Version
	err := e.db.Update(func(tx *storage.Tx) error {
		doc, err := e.versions.Document(tx, documentID)
		if err != nil {
			return err
		}
		policy, err := e.policies.Resolve(tx, doc.Type)
		if errors.Is(err, retention.ErrPolicyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		all, err := e.versions.List(tx, documentID, version.Filter{IncludeDeleted: true})
		if err != nil {
			return err
		}
		heads, err := e.branches.Heads(tx, documentID)
		if err != nil {
			return err
		}

		now := e.now()
		changed, err = retention.Apply(tx, e.versions, retention.Plan(all, policy, heads, now), RetentionActor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, v := range changed {
		typ := notify.VersionArchived
		if v.IsDeleted() {
			typ = notify.VersionDeleted
		}
		e.emit(ctx, typ, documentID, RetentionActor, map[string]string{"version_id": v.ID})
	}
	if len(changed) > 0 {
		e.log.Info().Str("document_id", documentID).Int("versions", len(changed)).Msg("retention applied")
	}
	return changed, nil
}
