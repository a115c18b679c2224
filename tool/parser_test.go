package tool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/testutil"
)

func TestParse_Variants(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Call
	}{
		{"segment", testutil.Segment("red car"), SegmentPhrase{Phrase: "red car"}},
		{"segment alias", testutil.ToolReply("segment_phrase", map[string]any{"text_prompt": " dog "}), SegmentPhrase{Phrase: "dog"}},
		{"examine", testutil.Examine(2, true, "looks right"), ExamineEachMask{MaskIndex: 2, Verdict: true, Rationale: "looks right"}},
		{"select", testutil.Select(3, 1), SelectMasksAndReturn{MaskIndices: []int{3, 1}}},
		{"select empty", testutil.Select(), SelectMasksAndReturn{MaskIndices: []int{}}},
		{"select alias", testutil.ToolReply("select_masks_and_return", map[string]any{"final_answer_masks": []int{0}}), SelectMasksAndReturn{MaskIndices: []int{0}}},
		{"no mask", testutil.NoMask("nothing there"), ReportNoMask{Rationale: "nothing there"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.Call)
			assert.NotEmpty(t, inv.Raw)
		})
	}
}

func TestParse_LastBlockWins(t *testing.T) {
	text := testutil.Segment("cat") + "\nActually, on second thought:\n" + testutil.Segment("dog")

	inv, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, SegmentPhrase{Phrase: "dog"}, inv.Call)
}

func TestParse_RepairsSurplusBrace(t *testing.T) {
	text := `<tool>{"name": "segment_phrase", "parameters": {"phrase": "cup"}}}</tool>`

	inv, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, SegmentPhrase{Phrase: "cup"}, inv.Call)
}

func TestParse_UnclosedTag(t *testing.T) {
	inv, err := Parse(`thinking... <tool>{"name": "report_no_mask", "parameters": {"rationale": "empty"}}`)
	require.NoError(t, err)
	assert.Equal(t, ReportNoMask{Rationale: "empty"}, inv.Call)
}

func TestParse_Fallbacks(t *testing.T) {
	t.Run("fenced json", func(t *testing.T) {
		text := "Here you go:\n```json\n{\"name\": \"select_masks_and_return\", \"parameters\": {\"mask_indices\": [0]}}\n```"
		inv, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, SelectMasksAndReturn{MaskIndices: []int{0}}, inv.Call)
	})

	t.Run("bare json", func(t *testing.T) {
		inv, err := Parse(`{"name": "segment_phrase", "parameters": {"phrase": "tree"}}`)
		require.NoError(t, err)
		assert.Equal(t, SegmentPhrase{Phrase: "tree"}, inv.Call)
	})

	t.Run("string encoded arguments", func(t *testing.T) {
		inv, err := Parse(`<tool>{"name": "segment_phrase", "arguments": "{\"phrase\": \"boat\"}"}</tool>`)
		require.NoError(t, err)
		assert.Equal(t, SegmentPhrase{Phrase: "boat"}, inv.Call)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		kind  core.ParseErrorKind
		class error
		field string
	}{
		{"plain prose", "I think the answer is the left dog.", core.ParseNoToolCall, core.ErrNoToolCall, ""},
		{"empty tag", "<tool></tool>", core.ParseNoToolCall, core.ErrNoToolCall, ""},
		{"broken json", "<tool>{\"name\": \"segment_phrase\", \"parameters\": {</tool>", core.ParseNoToolCall, core.ErrNoToolCall, ""},
		{"missing name", `<tool>{"parameters": {"phrase": "x"}}</tool>`, core.ParseNoToolCall, core.ErrNoToolCall, ""},
		{"unknown tool", testutil.ToolReply("zoom_in", map[string]any{"factor": 2}), core.ParseUnknownTool, core.ErrUnknownTool, ""},
		{"missing phrase", testutil.ToolReply("segment_phrase", map[string]any{}), core.ParseInvalidArguments, core.ErrInvalidArguments, "phrase"},
		{"blank phrase", testutil.ToolReply("segment_phrase", map[string]any{"phrase": "   "}), core.ParseInvalidArguments, core.ErrInvalidArguments, "phrase"},
		{"phrase wrong type", testutil.ToolReply("segment_phrase", map[string]any{"phrase": 3}), core.ParseInvalidArguments, core.ErrInvalidArguments, "phrase"},
		{"negative index", testutil.Examine(-1, true, "x"), core.ParseInvalidArguments, core.ErrInvalidArguments, "mask_index"},
		{"fractional index", testutil.ToolReply("examine_each_mask", map[string]any{"mask_index": 1.5, "verdict": true, "rationale": "x"}), core.ParseInvalidArguments, core.ErrInvalidArguments, "mask_index"},
		{"missing verdict", testutil.ToolReply("examine_each_mask", map[string]any{"mask_index": 0, "rationale": "x"}), core.ParseInvalidArguments, core.ErrInvalidArguments, "verdict"},
		{"indices not array", testutil.ToolReply("select_masks_and_return", map[string]any{"mask_indices": 2}), core.ParseInvalidArguments, core.ErrInvalidArguments, "mask_indices"},
		{"negative selected index", testutil.ToolReply("select_masks_and_return", map[string]any{"mask_indices": []int{0, -2}}), core.ParseInvalidArguments, core.ErrInvalidArguments, "mask_indices[1]"},
		{"parameters not object", `<tool>{"name": "report_no_mask", "parameters": [1]}</tool>`, core.ParseInvalidArguments, core.ErrInvalidArguments, ""},
		{"missing rationale", testutil.ToolReply("report_no_mask", map[string]any{}), core.ParseInvalidArguments, core.ErrInvalidArguments, "rationale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Parse(tt.text)
			require.Error(t, err)
			assert.Nil(t, inv)

			var pe *core.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.kind, pe.Kind)
			assert.ErrorIs(t, err, core.ErrParse)
			assert.ErrorIs(t, err, tt.class)
			assert.True(t, core.IsRecoverable(err))
			if tt.field != "" {
				assert.Equal(t, tt.field, pe.Field)
			}
		})
	}
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 4)

	got := make([]Name, len(defs))
	for i, d := range defs {
		got[i] = d.Name
		assert.Equal(t, "object", d.Parameters["type"])
		assert.NotEmpty(t, d.Description)
	}
	assert.Equal(t, []Name{NameSegmentPhrase, NameExamineEachMask, NameSelectMasksAndReturn, NameReportNoMask}, got)

	seg, ok := Lookup("segment_phrase")
	require.True(t, ok)
	assert.Equal(t, []string{"phrase"}, seg.Parameters["required"])

	_, ok = Lookup("nope")
	assert.False(t, ok)

	assert.True(t, NameSelectMasksAndReturn.Terminal())
	assert.True(t, NameReportNoMask.Terminal())
	assert.False(t, NameSegmentPhrase.Terminal())
	assert.False(t, NameExamineEachMask.Terminal())
}
