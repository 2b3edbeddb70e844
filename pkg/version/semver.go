package version

import (
	"fmt"

	"github.com/nainya/docrev/pkg/change"
)

// SemVer is a major.minor.patch triple
type SemVer struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Patch uint32 `json:"patch"`
}

func (s SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// ParseSemVer parses "major.minor.patch", with or without a leading v
func ParseSemVer(s string) (SemVer, error) {
	var v SemVer
	if len(s) > 0 && s[0] == 'v' {
		s = s[1:]
	}
	var rest string
	n, _ := fmt.Sscanf(s, "%d.%d.%d%s", &v.Major, &v.Minor, &v.Patch, &rest)
	if n != 3 {
		return SemVer{}, fmt.Errorf("invalid semantic version %q", s)
	}
	return v, nil
}

// Initial is the version of a document's first revision
var Initial = SemVer{Major: 1}

// Derive computes the semantic version of a new revision from its parent
// and the changes between them. The result depends only on the arguments.
func Derive(parent *SemVer, changes []change.Change) SemVer {
	if parent == nil {
		return Initial
	}

	switch {
	case change.Has(changes, change.CategoryCritical):
		return SemVer{Major: parent.Major + 1}
	case change.Has(changes, change.CategoryMajor):
		return SemVer{Major: parent.Major, Minor: parent.Minor + 1}
	default:
		return SemVer{Major: parent.Major, Minor: parent.Minor, Patch: parent.Patch + 1}
	}
}
