// ABOUTME: Line-based change analyzer built on go-diff line mode
// ABOUTME: Classifies each hunk by shape (formatting, structure, metadata) and by size

package change

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Default thresholds on the share of parent lines touched by one hunk
const (
	DefaultCriticalRatio = 0.5
	DefaultMajorRatio    = 0.2
)

// LineAnalyzer compares revisions line by line
type LineAnalyzer struct {
	CriticalRatio float64 // Hunks touching at least this share of the document are critical
	MajorRatio    float64 // Hunks touching at least this share are major
}

// NewLineAnalyzer returns an analyzer with the default thresholds
func NewLineAnalyzer() *LineAnalyzer {
	return &LineAnalyzer{CriticalRatio: DefaultCriticalRatio, MajorRatio: DefaultMajorRatio}
}

// Analyze implements Analyzer
func (a *LineAnalyzer) Analyze(ctx context.Context, parent, next []byte) ([]Change, error) {
	if parent == nil {
		return []Change{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !utf8.Valid(parent) || !utf8.Valid(next) {
		return a.analyzeBinary(parent, next), nil
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	parentText := string(parent)
	hunks := Hunks(parentText, string(next), timeout)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := max(1, len(SplitLines(parentText)))
	changes := make([]Change, 0, len(hunks))
	for _, h := range hunks {
		changes = append(changes, a.classify(h, total))
	}
	return changes, nil
}

func (a *LineAnalyzer) classify(h Hunk, total int) Change {
	loc := h.Location()
	oldText := strings.Join(h.Old, "")
	newText := strings.Join(h.New, "")

	c := Change{
		Location: &loc,
		OldValue: oldText,
		NewValue: newText,
	}

	switch {
	case len(h.Old) > 0 && len(h.New) > 0 && NormalizeWhitespace(oldText) == NormalizeWhitespace(newText):
		c.Type = TypeFormatting
		c.Category = CategoryCosmetic
		c.Confidence = 0.95
		c.Description = fmt.Sprintf("whitespace changed in lines %d-%d", loc.StartLine+1, max(loc.EndLine, loc.StartLine+1))
		return c
	case anyLine(h.Old, IsHeading) || anyLine(h.New, IsHeading):
		c.Type = TypeStructure
		c.Category = CategoryMajor
		c.Confidence = 0.8
		c.Description = "section structure changed"
		return c
	case allLines(append(append([]string{}, h.Old...), h.New...), IsMetadata):
		c.Type = TypeMetadata
		c.Category = CategoryTechnical
		c.Confidence = 0.85
		c.Description = "metadata fields changed"
		return c
	}

	switch {
	case len(h.Old) == 0:
		c.Type = TypeAddition
		c.Description = fmt.Sprintf("%d line(s) added", len(h.New))
	case len(h.New) == 0:
		c.Type = TypeDeletion
		c.Description = fmt.Sprintf("%d line(s) deleted", len(h.Old))
	default:
		c.Type = TypeModification
		c.Description = fmt.Sprintf("%d line(s) replaced by %d", len(h.Old), len(h.New))
	}
	c.Category = a.byRatio(float64(max(len(h.Old), len(h.New))) / float64(total))
	c.Confidence = 0.9
	return c
}

// analyzeBinary reports one modification sized by the byte delta
func (a *LineAnalyzer) analyzeBinary(parent, next []byte) []Change {
	if bytes.Equal(parent, next) {
		return []Change{}
	}
	delta := len(next) - len(parent)
	if delta < 0 {
		delta = -delta
	}
	ratio := float64(delta) / float64(max(1, len(parent)))
	return []Change{{
		Type:        TypeModification,
		Category:    a.byRatio(ratio),
		Description: fmt.Sprintf("binary content changed (%d -> %d bytes)", len(parent), len(next)),
		Confidence:  0.5,
	}}
}

func (a *LineAnalyzer) byRatio(ratio float64) Category {
	switch {
	case ratio >= a.CriticalRatio:
		return CategoryCritical
	case ratio >= a.MajorRatio:
		return CategoryMajor
	default:
		return CategoryMinor
	}
}

var (
	numberedHeading = regexp.MustCompile(`^(\d+\.)+\d*\s+\S`)
	keywordHeading  = regexp.MustCompile(`(?i)^(article|section|chapter|part|schedule|appendix)\s+[\w.]+`)
	metadataLine    = regexp.MustCompile(`^[A-Za-z][\w.-]{0,40}:\s*\S`)
)

// IsHeading reports whether a line looks like a section heading
func IsHeading(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "#") {
		return true
	}
	return numberedHeading.MatchString(s) || keywordHeading.MatchString(s)
}

// IsMetadata reports whether a line is a key: value field
func IsMetadata(line string) bool {
	s := strings.TrimSpace(line)
	return metadataLine.MatchString(s) && !strings.Contains(s, "://")
}

// IsAnnotation reports whether a line is a quote, comment or reviewer note
func IsAnnotation(line string) bool {
	s := strings.TrimSpace(line)
	for _, p := range []string{"> ", "<!--", "[note", "[comment", "%"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			return true
		}
	}
	return s == ">"
}

// NormalizeWhitespace collapses every whitespace run to a single space
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func anyLine(lines []string, pred func(string) bool) bool {
	for _, l := range lines {
		if pred(l) {
			return true
		}
	}
	return false
}

// allLines ignores blank lines and is false when nothing is left
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
