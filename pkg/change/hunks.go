package change

import (
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is a contiguous replacement of parent lines [Start, End) by New.
// Start == End marks a pure insertion before line Start.
type Hunk struct {
	Start int
	End   int
	Old   []string
	New   []string
}

// Location returns the parent range the hunk replaces
func (h Hunk) Location() Location {
	return Location{StartLine: h.Start, EndLine: h.End}
}

// SplitLines splits text into lines that keep their trailing newline,
// so joining the result reproduces the input exactly.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Hunks computes the line-level edit script from parent to next.
// A zero timeout lets the diff run to completion.
func Hunks(parent, next string, timeout time.Duration) []Hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = timeout

	a, b, lines := dmp.DiffLinesToChars(parent, next)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var hunks []Hunk
	var cur *Hunk
	pos := 0

	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}

	for _, d := range diffs {
		ls := SplitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(ls)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &Hunk{Start: pos, End: pos}
			}
			cur.Old = append(cur.Old, ls...)
			cur.End += len(ls)
			pos += len(ls)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &Hunk{Start: pos, End: pos}
			}
			cur.New = append(cur.New, ls...)
		}
	}
	flush()

	return hunks
}
