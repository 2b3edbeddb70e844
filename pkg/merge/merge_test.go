package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "a\nb\nc\nd\ne\n"

func TestMergeCleanEdits(t *testing.T) {
	source := []byte("a\nB\nc\nd\ne\n")
	target := []byte("a\nb\nc\nD\ne\n")

	assert.Empty(t, DetectConflicts([]byte(base), source, target))

	for _, s := range []Strategy{StrategyOurs, StrategyTheirs, StrategyAuto, StrategyManual} {
		res, err := Merge(Input{Ancestor: []byte(base), Source: source, Target: target, Strategy: s})
		require.NoError(t, err, s)
		assert.Equal(t, "a\nB\nc\nD\ne\n", string(res.Content), s)
		assert.Empty(t, res.Resolutions, s)
	}
}

func TestMergeIdenticalEditsDoNotConflict(t *testing.T) {
	same := []byte("a\nb\nC\nd\ne\n")
	assert.Empty(t, DetectConflicts([]byte(base), same, same))
}

func TestMergeContentConflict(t *testing.T) {
	source := []byte("a\nb\nX\nd\ne\n")
	target := []byte("a\nb\nY\nd\ne\n")

	conflicts := DetectConflicts([]byte(base), source, target)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "L2-3", c.ID)
	assert.Equal(t, ConflictContent, c.Type)
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.False(t, c.AutoResolvable)
	assert.Equal(t, "c\n", c.Base)
	assert.Equal(t, "Y\n", c.Ours)
	assert.Equal(t, "X\n", c.Theirs)

	ours, err := Merge(Input{Ancestor: []byte(base), Source: source, Target: target, Strategy: StrategyOurs})
	require.NoError(t, err)
	assert.Equal(t, string(target), string(ours.Content))
	require.Len(t, ours.Resolutions, 1)
	assert.Equal(t, ChoiceOurs, ours.Resolutions[0].Choice)

	theirs, err := Merge(Input{Ancestor: []byte(base), Source: source, Target: target, Strategy: StrategyTheirs})
	require.NoError(t, err)
	assert.Equal(t, string(source), string(theirs.Content))
}

func TestAutoMergeBlocksOnUnresolvableConflict(t *testing.T) {
	source := []byte("a\nB\nc\nX\ne\n")
	target := []byte("a\nB  \nc\nY\ne\n")

	detected := DetectConflicts([]byte(base), source, target)
	require.Len(t, detected, 2)

	res, err := Merge(Input{Ancestor: []byte(base), Source: source, Target: target, Strategy: StrategyAuto})
	assert.Nil(t, res)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, detected, ce.Conflicts)
}

func TestAutoMergeFormatting(t *testing.T) {
	ancestor := []byte("the cat sat\nhere\n")
	source := []byte("the  cat sat\nhere\n")
	target := []byte("the cat  sat\nhere\n")

	conflicts := DetectConflicts(ancestor, source, target)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictFormatting, conflicts[0].Type)
	assert.True(t, conflicts[0].AutoResolvable)

	res, err := Merge(Input{Ancestor: ancestor, Source: source, Target: target, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, string(target), string(res.Content))
}

func TestAutoMergeBothInsertions(t *testing.T) {
	ancestor := []byte("a\nb\n")
	source := []byte("a\nx\nb\n")
	target := []byte("a\ny\nb\n")

	conflicts := DetectConflicts(ancestor, source, target)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "L1-1", conflicts[0].ID)
	assert.True(t, conflicts[0].AutoResolvable)

	res, err := Merge(Input{Ancestor: ancestor, Source: source, Target: target, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, "a\ny\nx\nb\n", string(res.Content))
}

func TestAnnotationConflict(t *testing.T) {
	ancestor := []byte("clause one\nclause two\n")
	source := []byte("clause one\n> legal: check\nclause two\n")
	target := []byte("clause one\n<!-- reviewed -->\nclause two\n")

	conflicts := DetectConflicts(ancestor, source, target)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictAnnotation, conflicts[0].Type)

	res, err := Merge(Input{Ancestor: ancestor, Source: source, Target: target, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, "clause one\n<!-- reviewed -->\n> legal: check\nclause two\n", string(res.Content))
}

func TestConflictClassification(t *testing.T) {
	tests := []struct {
		name     string
		ancestor string
		source   string
		target   string
		typ      ConflictType
		severity Severity
	}{
		{
			name:     "heading",
			ancestor: "# Scope\ntext\n",
			source:   "# Scope of Work\ntext\n",
			target:   "# Project Scope\ntext\n",
			typ:      ConflictStructural,
			severity: SeverityHigh,
		},
		{
			name:     "metadata",
			ancestor: "owner: alice\nbody text\n",
			source:   "owner: bob\nbody text\n",
			target:   "owner: carol\nbody text\n",
			typ:      ConflictMetadata,
			severity: SeverityMedium,
		},
		{
			name:     "delete versus modify",
			ancestor: base,
			source:   "a\nb\nX\nd\ne\n",
			target:   "a\nb\nd\ne\n",
			typ:      ConflictContent,
			severity: SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := DetectConflicts([]byte(tt.ancestor), []byte(tt.source), []byte(tt.target))
			require.Len(t, conflicts, 1)
			assert.Equal(t, tt.typ, conflicts[0].Type)
			assert.Equal(t, tt.severity, conflicts[0].Severity)
			assert.False(t, conflicts[0].AutoResolvable)
		})
	}
}

func TestManualMerge(t *testing.T) {
	source := []byte("a\nb\nX\nd\ne\n")
	target := []byte("a\nb\nY\nd\ne\n")
	in := Input{Ancestor: []byte(base), Source: source, Target: target, Strategy: StrategyManual}

	_, err := Merge(in)
	assert.ErrorIs(t, err, ErrUnresolvedConflicts)

	in.Resolutions = []Resolution{
		{ConflictID: "L2-3", Choice: ChoiceOurs},
		{ConflictID: "L2-3", Choice: ChoiceTheirs},
	}
	_, err = Merge(in)
	assert.ErrorIs(t, err, ErrUnresolvedConflicts)

	in.Resolutions = []Resolution{{ConflictID: "L9-9", Choice: ChoiceOurs}}
	_, err = Merge(in)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	in.Resolutions = []Resolution{{ConflictID: "L2-3", Choice: ChoiceCustom, Content: "Z\n"}}
	res, err := Merge(in)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nZ\nd\ne\n", string(res.Content))
	assert.Equal(t, in.Resolutions, res.Resolutions)
}

func TestMergeBinary(t *testing.T) {
	ancestor := []byte{0xff, 0x01}
	source := []byte{0xff, 0x02}
	target := []byte{0xff, 0x03}

	conflicts := DetectConflicts(ancestor, source, target)
	require.Len(t, conflicts, 1)
	assert.True(t, conflicts[0].Binary)
	assert.Equal(t, "L0-1", conflicts[0].ID)

	res, err := Merge(Input{Ancestor: ancestor, Source: source, Target: target, Strategy: StrategyTheirs})
	require.NoError(t, err)
	assert.Equal(t, source, res.Content)

	_, err = Merge(Input{
		Ancestor:    ancestor,
		Source:      source,
		Target:      target,
		Strategy:    StrategyManual,
		Resolutions: []Resolution{{ConflictID: "L0-1", Choice: ChoiceBoth}},
	})
	assert.ErrorIs(t, err, ErrInvalidResolution)

	// Only the source changed
	res, err = Merge(Input{Ancestor: ancestor, Source: source, Target: ancestor, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, source, res.Content)
}

func TestMergeInvalidStrategy(t *testing.T) {
	_, err := Merge(Input{Strategy: "rebase"})
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestRequestTransitions(t *testing.T) {
	r := NewRequest("m1", "feature", "main", StrategyAuto)
	assert.Equal(t, StateRequested, r.State)

	assert.ErrorIs(t, r.Transition(StateCompleted), ErrInvalidTransition)
	require.NoError(t, r.Transition(StateConflictCheck))
	require.NoError(t, r.Transition(StateMerging))
	require.NoError(t, r.Transition(StateCompleted))
	assert.True(t, r.State.Terminal())

	r.Fail(errors.New("late failure"))
	assert.Equal(t, StateCompleted, r.State)
	assert.Nil(t, r.Err)
	assert.Len(t, r.History, 4)

	blocked := NewRequest("m2", "feature", "main", StrategyAuto)
	require.NoError(t, blocked.Transition(StateConflictCheck))
	require.NoError(t, blocked.Transition(StateBlocked))
	assert.ErrorIs(t, blocked.Transition(StateMerging), ErrInvalidTransition)
}
