// ABOUTME: Retention planning over a document's version set
// ABOUTME: Plan is pure; Apply writes the planned archive and delete actions

package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/nainya/docrev/pkg/storage"
	"github.com/nainya/docrev/pkg/version"
)

// Policy decides how many and how old versions are kept
type Policy struct {
	MaxVersions          int  `json:"max_versions" yaml:"max_versions" validate:"gte=0"`
	RetentionPeriodDays  int  `json:"retention_period_days" yaml:"retention_period_days" validate:"gte=0"`
	ArchiveOldVersions   bool `json:"archive_old_versions" yaml:"archive_old_versions"`
	DeleteOldVersions    bool `json:"delete_old_versions" yaml:"delete_old_versions"`
	KeepBaselines        bool `json:"keep_baselines" yaml:"keep_baselines"`
	KeepApprovedVersions bool `json:"keep_approved_versions" yaml:"keep_approved_versions"`
}

// Kind is what an action does to a version
type Kind string

const (
	KindArchive Kind = "archive"
	KindDelete  Kind = "delete"
)

// Action is one planned change to a version
type Action struct {
	VersionID string
	Number    uint64
	Kind      Kind
	Reason    string
}

// Plan lists the actions the policy requires. Deleted versions are ignored,
// heads of any branch are never touched, and versions already archived get no
// second archive action, so planning again after Apply yields nothing.
func Plan(versions []*version.Version, p Policy, heads map[string]bool, now time.Time) []Action {
	kind, ok := p.kind()
	if !ok {
		return nil
	}

	live := make([]*version.Version, 0, len(versions))
	for _, v := range versions {
		if !v.IsDeleted() {
			live = append(live, v)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].VersionNumber > live[j].VersionNumber })

	maxAge := time.Duration(p.RetentionPeriodDays) * 24 * time.Hour

	var actions []Action
	for i, v := range live {
		var reason string
		switch {
		case p.MaxVersions > 0 && i >= p.MaxVersions:
			reason = fmt.Sprintf("beyond the newest %d versions", p.MaxVersions)
		case p.RetentionPeriodDays > 0 && now.Sub(v.CreatedAt) > maxAge:
			reason = fmt.Sprintf("older than %d days", p.RetentionPeriodDays)
		default:
			continue
		}

		if p.exempt(v, kind, heads) {
			continue
		}
		if kind == KindArchive && v.Status == version.StatusArchived {
			continue
		}
		actions = append(actions, Action{VersionID: v.ID, Number: v.VersionNumber, Kind: kind, Reason: reason})
	}
	return actions
}

func (p Policy) kind() (Kind, bool) {
	switch {
	case p.ArchiveOldVersions:
		return KindArchive, true
	case p.DeleteOldVersions:
		return KindDelete, true
	}
	return "", false
}

func (p Policy) exempt(v *version.Version, kind Kind, heads map[string]bool) bool {
	switch {
	case heads[v.ID], v.IsSnapshot:
		return true
	case v.IsBaseline && (kind == KindDelete || p.KeepBaselines):
		return true
	case p.KeepApprovedVersions && v.IsApproved():
		return true
	}
	return false
}

// Apply performs the actions and returns the versions it changed
func Apply(tx *storage.Tx, store *version.Store, actions []Action, actor string, now time.Time) ([]*version.Version, error) {
	changed := make([]*version.Version, 0, len(actions))
	for _, a := range actions {
		v, err := store.Get(tx, a.VersionID)
		if err != nil {
			return nil, err
		}

		switch a.Kind {
		case KindArchive:
			v.Status = version.StatusArchived
		case KindDelete:
			v.Status = version.StatusDeleted
			v.DeletedBy = actor
			v.DeletedAt = &now
		default:
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidPolicy, a.Kind)
		}
		v.UpdatedAt = now

		if err := store.Update(tx, v); err != nil {
			return nil, fmt.Errorf("%s %s: %w", a.Kind, a.VersionID, err)
		}
		changed = append(changed, v)
	}
	return changed, nil
}
