package engine

import "slices"

// Permissions answers capability questions for an actor on a document
type Permissions interface {
	CanManage(actor, documentID string) bool
	CanDelete(actor, documentID string) bool
}

type allowAll struct{}

func (allowAll) CanManage(string, string) bool { return true }
func (allowAll) CanDelete(string, string) bool { return true }

// AllowAll grants every capability to every actor
var AllowAll Permissions = allowAll{}

// StaticPermissions grants capabilities to fixed actor lists, for every document
type StaticPermissions struct {
	Managers []string
	Deleters []string
}

// CanManage reports whether actor is listed as a manager
func (p StaticPermissions) CanManage(actor, _ string) bool {
	return slices.Contains(p.Managers, actor)
}

// CanDelete reports whether actor is listed as a deleter or a manager
func (p StaticPermissions) CanDelete(actor, documentID string) bool {
	return slices.Contains(p.Deleters, actor) || p.CanManage(actor, documentID)
}
