// ABOUTME: Three-way line merge against a common ancestor
// ABOUTME: Overlapping hunks from both sides form regions; differing regions become conflicts

package merge

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nainya/docrev/pkg/change"
)

// region is a span of ancestor lines touched by at least one side
type region struct {
	loc      change.Location
	ours     []string // Target side of the span
	theirs   []string // Source side of the span
	conflict int      // Index into plan.conflicts, -1 when the sides agree
}

type plan struct {
	base      []string
	regions   []region
	conflicts []Conflict
}

// DetectConflicts lists the regions where source and target diverge
// incompatibly from their common ancestor, in document order.
func DetectConflicts(ancestor, source, target []byte) []Conflict {
	return newPlan(ancestor, source, target).conflicts
}

// Merge combines source into target according to the strategy
func Merge(in Input) (*Result, error) {
	if !in.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, in.Strategy)
	}

	p := newPlan(in.Ancestor, in.Source, in.Target)

	var resolutions []Resolution
	switch in.Strategy {
	case StrategyOurs, StrategyTheirs:
		choice := ChoiceOurs
		if in.Strategy == StrategyTheirs {
			choice = ChoiceTheirs
		}
		for _, c := range p.conflicts {
			resolutions = append(resolutions, Resolution{ConflictID: c.ID, Choice: choice})
		}

	case StrategyAuto:
		for _, c := range p.conflicts {
			if !c.AutoResolvable {
				return nil, &ConflictError{Conflicts: p.conflicts}
			}
		}
		for _, c := range p.conflicts {
			resolutions = append(resolutions, Resolution{ConflictID: c.ID, Choice: c.Suggestion})
		}

	case StrategyManual:
		if err := validateResolutions(p.conflicts, in.Resolutions); err != nil {
			return nil, err
		}
		resolutions = in.Resolutions
	}

	content, err := p.render(resolutions)
	if err != nil {
		return nil, err
	}

	return &Result{
		Content:     content,
		Strategy:    in.Strategy,
		Conflicts:   p.conflicts,
		Resolutions: resolutions,
	}, nil
}

// validateResolutions requires exactly one resolution per detected conflict
func validateResolutions(conflicts []Conflict, resolutions []Resolution) error {
	known := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		known[c.ID] = true
	}

	seen := make(map[string]bool, len(resolutions))
	for _, r := range resolutions {
		if !known[r.ConflictID] {
			return fmt.Errorf("%w: no conflict %s", ErrInvalidResolution, r.ConflictID)
		}
		if seen[r.ConflictID] {
			return fmt.Errorf("%w: conflict %s resolved more than once", ErrUnresolvedConflicts, r.ConflictID)
		}
		if !r.Choice.Valid() {
			return fmt.Errorf("%w: unknown choice %q for %s", ErrInvalidResolution, r.Choice, r.ConflictID)
		}
		seen[r.ConflictID] = true
	}

	var missing []string
	for _, c := range conflicts {
		if !seen[c.ID] {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnresolvedConflicts, strings.Join(missing, ", "))
	}
	return nil
}

func newPlan(ancestor, source, target []byte) *plan {
	if isBinary(ancestor) || isBinary(source) || isBinary(target) {
		return newBinaryPlan(ancestor, source, target)
	}

	base := string(ancestor)
	p := &plan{base: change.SplitLines(base)}

	theirs := change.Hunks(base, string(source), 0)
	ours := change.Hunks(base, string(target), 0)

	for _, g := range group(theirs, ours) {
		r := region{
			loc:      g.loc,
			ours:     p.side(g.loc, g.ours),
			theirs:   p.side(g.loc, g.theirs),
			conflict: -1,
		}
		if len(g.ours) > 0 && len(g.theirs) > 0 && !equalLines(r.ours, r.theirs) {
			r.conflict = len(p.conflicts)
			p.conflicts = append(p.conflicts, classify(r.loc, p.base[r.loc.StartLine:r.loc.EndLine], r.ours, r.theirs))
		} else if len(g.ours) == 0 {
			r.ours = r.theirs
		}
		p.regions = append(p.regions, r)
	}
	return p
}

// newBinaryPlan treats each input as one opaque line
func newBinaryPlan(ancestor, source, target []byte) *plan {
	p := &plan{base: []string{string(ancestor)}}
	loc := change.Location{StartLine: 0, EndLine: 1}

	switch {
	case bytes.Equal(source, target), bytes.Equal(source, ancestor):
		p.regions = []region{{loc: loc, ours: []string{string(target)}, conflict: -1}}
	case bytes.Equal(target, ancestor):
		p.regions = []region{{loc: loc, ours: []string{string(source)}, conflict: -1}}
	default:
		p.regions = []region{{loc: loc, ours: []string{string(target)}, theirs: []string{string(source)}, conflict: 0}}
		p.conflicts = []Conflict{{
			ID:          ConflictID(loc),
			Type:        ConflictContent,
			Severity:    SeverityHigh,
			Location:    loc,
			Binary:      true,
			Description: fmt.Sprintf("binary content diverged (%d vs %d bytes)", len(target), len(source)),
		}}
	}
	return p
}

// cluster is a set of hunks from both sides over one ancestor span
type cluster struct {
	loc          change.Location
	ours, theirs []change.Hunk
}

// group clusters hunks from both sides whose ancestor ranges overlap
func group(theirs, ours []change.Hunk) []cluster {
	var out []cluster
	i, j := 0, 0
	for i < len(theirs) || j < len(ours) {
		var c cluster
		if j >= len(ours) || (i < len(theirs) && theirs[i].Start <= ours[j].Start) {
			c.loc = theirs[i].Location()
			c.theirs = append(c.theirs, theirs[i])
			i++
		} else {
			c.loc = ours[j].Location()
			c.ours = append(c.ours, ours[j])
			j++
		}

		for grown := true; grown; {
			grown = false
			for i < len(theirs) && theirs[i].Location().Overlaps(c.loc) {
				c.loc = span(c.loc, theirs[i].Location())
				c.theirs = append(c.theirs, theirs[i])
				i++
				grown = true
			}
			for j < len(ours) && ours[j].Location().Overlaps(c.loc) {
				c.loc = span(c.loc, ours[j].Location())
				c.ours = append(c.ours, ours[j])
				j++
				grown = true
			}
		}
		out = append(out, c)
	}
	return out
}

func span(a, b change.Location) change.Location {
	return change.Location{StartLine: min(a.StartLine, b.StartLine), EndLine: max(a.EndLine, b.EndLine)}
}

// side replays one side's hunks over the ancestor lines of loc
func (p *plan) side(loc change.Location, hunks []change.Hunk) []string {
	var out []string
	pos := loc.StartLine
	for _, h := range hunks {
		out = append(out, p.base[pos:h.Start]...)
		out = append(out, h.New...)
		pos = h.End
	}
	return append(out, p.base[pos:loc.EndLine]...)
}

// render assembles the merged document using one resolution per conflict
func (p *plan) render(resolutions []Resolution) ([]byte, error) {
	byID := make(map[string]Resolution, len(resolutions))
	for _, r := range resolutions {
		byID[r.ConflictID] = r
	}

	var b strings.Builder
	pos := 0
	for _, r := range p.regions {
		for _, l := range p.base[pos:r.loc.StartLine] {
			b.WriteString(l)
		}
		pos = r.loc.EndLine

		lines := r.ours
		if r.conflict >= 0 {
			c := p.conflicts[r.conflict]
			res, ok := byID[c.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnresolvedConflicts, c.ID)
			}
			chosen, err := resolve(c, r, res)
			if err != nil {
				return nil, err
			}
			lines = chosen
		}
		for _, l := range lines {
			b.WriteString(l)
		}
	}
	for _, l := range p.base[pos:] {
		b.WriteString(l)
	}
	return []byte(b.String()), nil
}

func resolve(c Conflict, r region, res Resolution) ([]string, error) {
	switch res.Choice {
	case ChoiceOurs:
		return r.ours, nil
	case ChoiceTheirs:
		return r.theirs, nil
	case ChoiceBoth:
		if c.Binary {
			return nil, fmt.Errorf("%w: cannot keep both sides of binary conflict %s", ErrInvalidResolution, c.ID)
		}
		return union(r.ours, r.theirs), nil
	case ChoiceCustom:
		if c.Binary {
			return []string{res.Content}, nil
		}
		return change.SplitLines(res.Content), nil
	}
	return nil, fmt.Errorf("%w: unknown choice %q for %s", ErrInvalidResolution, res.Choice, c.ID)
}

// union keeps every target line, then appends source lines the target lacks
func union(ours, theirs []string) []string {
	have := counts(ours)
	out := append([]string{}, ours...)
	for _, l := range theirs {
		if have[l] > 0 {
			have[l]--
			continue
		}
		if len(out) > 0 && !strings.HasSuffix(out[len(out)-1], "\n") {
			out[len(out)-1] += "\n"
		}
		out = append(out, l)
	}
	return out
}

func counts(lines []string) map[string]int {
	m := make(map[string]int, len(lines))
	for _, l := range lines {
		m[l]++
	}
	return m
}

func equalLines(a, b []string) bool {
	return strings.Join(a, "") == strings.Join(b, "")
}

func isBinary(b []byte) bool {
	return !utf8.Valid(b)
}
