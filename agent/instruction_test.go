package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
)

func newTestRunContext() *core.RunContext {
	run := core.NewAgentRun("run-1", core.Query{Phrase: "the red car"})
	return core.NewRunContext(context.Background(), run, nil, nil, nil, nil)
}

func TestInstruction_Static(t *testing.T) {
	got, err := NewInstructionFromText("static instruction").Resolve(newTestRunContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_Template(t *testing.T) {
	inst := NewInstructionFromText("Find {{quote .query}} within {{.max_rounds}} rounds, seen {{indices .seen}}.")

	got, err := inst.Resolve(newTestRunContext(), map[string]any{"query": "cats", "max_rounds": 3, "seen": []int{0, 2}})
	require.NoError(t, err)
	assert.Equal(t, `Find "cats" within 3 rounds, seen 0, 2.`, got)
}

func TestInstruction_TemplateParseError(t *testing.T) {
	inst := NewInstructionFromText("broken {{.query")
	assert.False(t, inst.IsZero())

	_, err := inst.Resolve(newTestRunContext(), nil)
	assert.Error(t, err)
}

func TestInstruction_Func(t *testing.T) {
	inst := NewInstructionFromFunc(func(rc *core.RunContext) (string, error) {
		return "query: " + rc.Run.Query.Phrase, nil
	})

	got, err := inst.Resolve(newTestRunContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, "query: the red car", got)
}

func TestInstruction_FuncError(t *testing.T) {
	inst := NewInstructionFromFunc(func(*core.RunContext) (string, error) {
		return "", errors.New("boom")
	})

	_, err := inst.Resolve(newTestRunContext(), nil)
	assert.EqualError(t, err, "boom")
}

func TestDefaultInstruction_ListsTools(t *testing.T) {
	got, err := DefaultInstruction().Resolve(newTestRunContext(), promptData(core.Query{Phrase: "dogs"}, 7))
	require.NoError(t, err)

	for _, name := range []string{"segment_phrase", "examine_each_mask", "select_masks_and_return", "report_no_mask"} {
		assert.Contains(t, got, "- "+name+": ")
	}
	assert.Contains(t, got, `"phrase"`)
	assert.Contains(t, got, "at most 7 rounds")
	assert.Contains(t, got, "<tool>")
	assert.NotContains(t, got, "&#34;")
}

func TestInstruction_IsZero(t *testing.T) {
	assert.True(t, Instruction{}.IsZero())
	assert.False(t, DefaultInstruction().IsZero())
}
