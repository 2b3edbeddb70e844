// ABOUTME: Merge strategies, conflicts and resolutions
// ABOUTME: Conflicts are addressed by the ancestor line range they cover

package merge

import (
	"fmt"

	"github.com/nainya/docrev/pkg/change"
)

// Strategy selects how conflicting regions are settled
type Strategy string

const (
	StrategyOurs   Strategy = "ours"   // Keep the target side
	StrategyTheirs Strategy = "theirs" // Keep the source side
	StrategyAuto   Strategy = "auto"   // Settle auto-resolvable conflicts, block on the rest
	StrategyManual Strategy = "manual" // Apply caller-supplied resolutions
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyOurs, StrategyTheirs, StrategyAuto, StrategyManual:
		return true
	}
	return false
}

// ConflictType classifies a conflicting region
type ConflictType string

const (
	ConflictContent    ConflictType = "content"
	ConflictFormatting ConflictType = "formatting"
	ConflictMetadata   ConflictType = "metadata"
	ConflictStructural ConflictType = "structural"
	ConflictAnnotation ConflictType = "annotation"
)

// Severity ranks how risky a conflict is to settle
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Choice selects the content that settles a conflict
type Choice string

const (
	ChoiceOurs   Choice = "ours"
	ChoiceTheirs Choice = "theirs"
	ChoiceBoth   Choice = "both"   // Target lines, then source lines the target lacks
	ChoiceCustom Choice = "custom" // Caller-supplied content
)

// Valid reports whether c is a known choice
func (c Choice) Valid() bool {
	switch c {
	case ChoiceOurs, ChoiceTheirs, ChoiceBoth, ChoiceCustom:
		return true
	}
	return false
}

// Conflict is one ancestor region both sides changed differently
type Conflict struct {
	ID             string          `json:"id"`
	Type           ConflictType    `json:"type"`
	Severity       Severity        `json:"severity"`
	Location       change.Location `json:"location"`
	Base           string          `json:"base"`
	Ours           string          `json:"ours"`
	Theirs         string          `json:"theirs"`
	AutoResolvable bool            `json:"auto_resolvable"`
	Suggestion     Choice          `json:"suggestion,omitempty"`
	Binary         bool            `json:"binary,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// ConflictID names the conflict covering an ancestor range
func ConflictID(loc change.Location) string {
	return fmt.Sprintf("L%d-%d", loc.StartLine, loc.EndLine)
}

// Resolution settles one conflict
type Resolution struct {
	ConflictID string `json:"conflict_id"`
	Choice     Choice `json:"choice"`
	Content    string `json:"content,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// Input is everything a merge needs. Ancestor may be nil when the two
// lines of history share no version.
type Input struct {
	Ancestor    []byte
	Source      []byte
	Target      []byte
	Strategy    Strategy
	Resolutions []Resolution
}

// Result is the outcome of a successful merge
type Result struct {
	Content     []byte
	Strategy    Strategy
	Conflicts   []Conflict
	Resolutions []Resolution
}
