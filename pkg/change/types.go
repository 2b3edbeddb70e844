// ABOUTME: Change records produced by comparing two document revisions
// ABOUTME: Each change carries a type, a severity category and an optional location

package change

import "context"

// Type describes what kind of edit a change is
type Type string

const (
	TypeAddition     Type = "addition"
	TypeDeletion     Type = "deletion"
	TypeModification Type = "modification"
	TypeFormatting   Type = "formatting"
	TypeStructure    Type = "structure"
	TypeMetadata     Type = "metadata"
)

// Category describes how much a change matters
type Category string

const (
	CategoryCritical  Category = "critical"
	CategoryMajor     Category = "major"
	CategoryMinor     Category = "minor"
	CategoryCosmetic  Category = "cosmetic"
	CategoryTechnical Category = "technical"
)

// Location is a half-open line range [StartLine, EndLine) in the parent revision.
// An empty range marks an insertion point.
type Location struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Overlaps reports whether two locations touch the same region.
// Insertion points overlap any range that contains them, boundaries included.
func (l Location) Overlaps(o Location) bool {
	if l.StartLine == l.EndLine {
		return o.StartLine <= l.StartLine && l.StartLine <= o.EndLine
	}
	if o.StartLine == o.EndLine {
		return l.StartLine <= o.StartLine && o.StartLine <= l.EndLine
	}
	return max(l.StartLine, o.StartLine) < min(l.EndLine, o.EndLine)
}

// Change is one atomic edit between a parent and a new revision
type Change struct {
	Type        Type      `json:"type"`
	Category    Category  `json:"category"`
	Location    *Location `json:"location,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// Analyzer turns two revisions into change records.
// A nil parent means there is nothing to compare against.
type Analyzer interface {
	Analyze(ctx context.Context, parent, next []byte) ([]Change, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface
type AnalyzerFunc func(ctx context.Context, parent, next []byte) ([]Change, error)

// Analyze calls f
func (f AnalyzerFunc) Analyze(ctx context.Context, parent, next []byte) ([]Change, error) {
	return f(ctx, parent, next)
}
