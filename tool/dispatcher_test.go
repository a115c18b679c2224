package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/testutil"
	"github.com/hupe1980/segmesh/segmenter"
)

func dogCandidates() []core.Mask {
	left := testutil.NewMaskBuilder().Rows("##..", "##..").Score(0.9).Build()
	right := testutil.NewMaskBuilder().Rows("..##", "..##").Score(0.7).Build()
	dup := testutil.NewMaskBuilder().Rows("##..", "##..").Score(0.6).Build()
	return []core.Mask{right, dup, left}
}

func newRun(t *testing.T) (*core.RunContext, *core.Round) {
	t.Helper()
	run := core.NewAgentRun("run-1", core.Query{Image: core.ImageRef{Key: "img.png"}, Phrase: "the dogs"})
	rd, err := run.StartRound()
	require.NoError(t, err)
	return core.NewRunContext(context.Background(), run, nil, nil, nil, nil), rd
}

func nextRound(t *testing.T, rc *core.RunContext, rd *core.Round) *core.Round {
	t.Helper()
	require.NoError(t, rc.Run.Advance(rd, core.RoundComplete))
	next, err := rc.Run.StartRound()
	require.NoError(t, err)
	return next
}

func TestDispatcher_SegmentPhrase(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	res, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.NoError(t, err)

	assert.Equal(t, NameSegmentPhrase, res.Tool)
	assert.False(t, res.Terminal)
	assert.False(t, res.Cached)
	require.Len(t, res.Masks, 2)
	assert.Equal(t, []int{0, 1}, res.Masks.Indices())
	assert.Equal(t, []float64{0.9, 0.7}, res.Masks.Scores())
	for _, m := range res.Masks {
		assert.Equal(t, "dog", m.Phrase)
		assert.Equal(t, 1, m.Round)
	}
	assert.Equal(t, core.RoleTool, res.Content.Role)
	assert.Contains(t, res.Content.Text(), "generated 2 masks")
	assert.Contains(t, res.Content.Text(), "[0, 1]")

	assert.Equal(t, 2, rc.Run.MaskCount())
	require.Len(t, rd.Segmentations, 1)
	assert.Equal(t, core.SegmentationCall{Phrase: "dog", MaskIndices: []int{0, 1}}, rd.Segmentations[0])
}

func TestDispatcher_PhraseDedup(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	first, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.NoError(t, err)

	rd2 := nextRound(t, rc, rd)
	second, err := d.Dispatch(rc, rd2, SegmentPhrase{Phrase: "  DOG "})
	require.NoError(t, err)

	assert.Equal(t, 1, seg.Calls("dog"))
	assert.True(t, second.Cached)
	assert.Equal(t, first.Masks, second.Masks)
	assert.Equal(t, 2, rc.Run.MaskCount())
	assert.Contains(t, second.Content.Text(), "already segmented")
	require.Len(t, rd2.Segmentations, 1)
	assert.True(t, rd2.Segmentations[0].Cached)
}

func TestDispatcher_ZeroMasksIsCached(t *testing.T) {
	seg := segmenter.NewStatic()
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	res, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "unicorn"})
	require.NoError(t, err)
	assert.Empty(t, res.Masks)
	assert.Contains(t, res.Content.Text(), "0 masks")

	_, err = d.Dispatch(rc, nextRound(t, rc, rd), SegmentPhrase{Phrase: "unicorn"})
	require.NoError(t, err)
	assert.Equal(t, 1, seg.Calls("unicorn"))
}

func TestDispatcher_FailedSegmentationNotCached(t *testing.T) {
	seg := segmenter.NewStatic().WithError("dog", errors.New("connection refused"))
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrServiceUnavailable)
	assert.True(t, core.IsRecoverable(err))

	_, err = d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.Error(t, err)
	assert.Equal(t, 2, seg.Calls("dog"))
	assert.Empty(t, rd.Segmentations)
}

func TestDispatcher_SegmentTimeoutPassesThrough(t *testing.T) {
	seg := segmenter.NewStatic().WithError("dog", &core.ServiceTimeoutError{Service: "segmentation"})
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	assert.ErrorIs(t, err, core.ErrServiceTimeout)
}

func TestDispatcher_CachesArePerDispatcher(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)

	for i := 0; i < 2; i++ {
		rc, rd := newRun(t)
		_, err := NewDispatcher(seg).Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, seg.Calls("dog"))
}

func TestDispatcher_ExamineEachMask(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)
	d := NewDispatcher(seg)
	rc, rd := newRun(t)

	_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.NoError(t, err)
	rd2 := nextRound(t, rc, rd)

	res, err := d.Dispatch(rc, rd2, ExamineEachMask{MaskIndex: 1, Verdict: false, Rationale: "that is a cat"})
	require.NoError(t, err)
	assert.False(t, res.Terminal)
	assert.Contains(t, res.Content.Text(), "rejected")

	m, err := rc.Run.Mask(1)
	require.NoError(t, err)
	require.NotNil(t, m.Verdict)
	assert.Equal(t, core.Verdict{Accepted: false, Rationale: "that is a cat", Round: 2}, *m.Verdict)
}

func TestDispatcher_ExamineOutOfRange(t *testing.T) {
	d := NewDispatcher(segmenter.NewStatic())
	rc, rd := newRun(t)

	_, err := d.Dispatch(rc, rd, ExamineEachMask{MaskIndex: 0, Verdict: true, Rationale: "x"})
	require.Error(t, err)

	var ie *core.IndexOutOfRangeError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, ie.Index)
	assert.Equal(t, 0, ie.Count)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.True(t, core.IsRecoverable(err))
}

func TestDispatcher_SelectMasksAndReturn(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)

	t.Run("success keeps given order and drops duplicates", func(t *testing.T) {
		d := NewDispatcher(seg)
		rc, rd := newRun(t)
		_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
		require.NoError(t, err)

		res, err := d.Dispatch(rc, nextRound(t, rc, rd), SelectMasksAndReturn{MaskIndices: []int{1, 0, 1}})
		require.NoError(t, err)
		assert.True(t, res.Terminal)
		assert.Equal(t, core.RunSuccess, res.Status)
		assert.Equal(t, []int{1, 0}, res.Masks.Indices())
		assert.Equal(t, core.RunRunning, rc.Run.CurrentStatus())
	})

	t.Run("empty selection is no_masks", func(t *testing.T) {
		d := NewDispatcher(seg)
		rc, rd := newRun(t)

		res, err := d.Dispatch(rc, rd, SelectMasksAndReturn{MaskIndices: []int{}})
		require.NoError(t, err)
		assert.True(t, res.Terminal)
		assert.Equal(t, core.RunNoMasks, res.Status)
		assert.Empty(t, res.Masks)
	})

	t.Run("index never produced", func(t *testing.T) {
		d := NewDispatcher(seg)
		rc, rd := newRun(t)
		_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
		require.NoError(t, err)

		res, err := d.Dispatch(rc, nextRound(t, rc, rd), SelectMasksAndReturn{MaskIndices: []int{0, 7}})
		require.Error(t, err)
		assert.Nil(t, res)

		var ie *core.IndexOutOfRangeError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, 7, ie.Index)
		assert.Equal(t, 2, ie.Count)
		assert.Equal(t, core.RunRunning, rc.Run.CurrentStatus())
	})
}

func TestDispatcher_ReportNoMask(t *testing.T) {
	d := NewDispatcher(segmenter.NewStatic())
	rc, rd := newRun(t)

	res, err := d.Dispatch(rc, rd, ReportNoMask{Rationale: "no dogs visible"})
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, core.RunNoMasks, res.Status)
	assert.Equal(t, "no dogs visible", res.Message)

	res, err = d.Dispatch(rc, rd, ReportNoMask{})
	require.NoError(t, err)
	assert.Equal(t, "No objects match the query", res.Message)
}

func TestDispatcher_DoesNotMutateQuery(t *testing.T) {
	seg := segmenter.NewStatic().With("dog", dogCandidates()...)
	d := NewDispatcher(seg)
	rc, rd := newRun(t)
	before := rc.Run.Query

	_, err := d.Dispatch(rc, rd, SegmentPhrase{Phrase: "dog"})
	require.NoError(t, err)
	_, err = d.Dispatch(rc, rd, SelectMasksAndReturn{MaskIndices: []int{0}})
	require.NoError(t, err)

	assert.Equal(t, before, rc.Run.Query)
}
