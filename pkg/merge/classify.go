package merge

import (
	"fmt"
	"strings"

	"github.com/nainya/docrev/pkg/change"
)

// classify builds the conflict record for a region where both sides differ
func classify(loc change.Location, base, ours, theirs []string) Conflict {
	c := Conflict{
		ID:       ConflictID(loc),
		Location: loc,
		Base:     strings.Join(base, ""),
		Ours:     strings.Join(ours, ""),
		Theirs:   strings.Join(theirs, ""),
	}

	touched := append(changed(base, ours), changed(base, theirs)...)

	switch {
	case change.NormalizeWhitespace(c.Ours) == change.NormalizeWhitespace(c.Theirs):
		c.Type = ConflictFormatting
		c.Severity = SeverityLow
		c.AutoResolvable = true
		c.Suggestion = ChoiceOurs
		c.Description = "both sides differ only in whitespace"

	case len(base) == 0 && !anyLine(touched, change.IsHeading):
		c.Type = ConflictContent
		if allLines(touched, change.IsAnnotation) {
			c.Type = ConflictAnnotation
		}
		c.Severity = SeverityLow
		c.AutoResolvable = true
		c.Suggestion = ChoiceBoth
		c.Description = "both sides inserted text at the same point"

	case keepsBase(base, ours) && keepsBase(base, theirs) && allLines(touched, change.IsAnnotation):
		c.Type = ConflictAnnotation
		c.Severity = SeverityLow
		c.AutoResolvable = true
		c.Suggestion = ChoiceBoth
		c.Description = "both sides added annotations"

	case anyLine(touched, change.IsHeading):
		c.Type = ConflictStructural
		c.Severity = SeverityHigh
		c.Description = "both sides changed section structure"

	case allLines(touched, change.IsMetadata):
		c.Type = ConflictMetadata
		c.Severity = SeverityMedium
		c.Description = "both sides changed the same metadata fields"

	default:
		c.Type = ConflictContent
		c.Severity = SeverityMedium
		if len(ours) == 0 || len(theirs) == 0 {
			c.Severity = SeverityHigh
		}
		c.Description = fmt.Sprintf("lines %d-%d changed on both sides", loc.StartLine+1, max(loc.EndLine, loc.StartLine+1))
	}
	return c
}

// changed returns the lines present on one side of base and not the other
func changed(base, side []string) []string {
	var out []string
	b := counts(base)
	for _, l := range side {
		if b[l] > 0 {
			b[l]--
			continue
		}
		out = append(out, l)
	}
	s := counts(side)
	for _, l := range base {
		if s[l] > 0 {
			s[l]--
			continue
		}
		out = append(out, l)
	}
	return out
}

// keepsBase reports whether side still contains every base line
func keepsBase(base, side []string) bool {
	s := counts(side)
	for _, l := range base {
		if s[l] == 0 {
			return false
		}
		s[l]--
	}
	return true
}

func anyLine(lines []string, pred func(string) bool) bool {
	for _, l := range lines {
		if pred(l) {
			return true
		}
	}
	return false
}

func allLines(lines []string, pred func(string) bool) bool {
	seen := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if !pred(l) {
			return false
		}
		seen = true
	}
	return seen
}
