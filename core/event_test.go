package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent("run-1", EventReasoningChunk, ReasoningChunkData{Round: 2, Delta: "lo", Text: "hello"})
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, EventReasoningChunk, e.Type)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Greater(t, e.UnixSeconds(), 0.0)
}

func TestEventType_Terminal(t *testing.T) {
	terminal := map[EventType]bool{
		EventAgentStart:           false,
		EventRoundStart:           false,
		EventReasoningStart:       false,
		EventReasoningChunk:       false,
		EventReasoningComplete:    false,
		EventSegmentationStart:    false,
		EventSegmentationComplete: false,
		EventAgentComplete:        true,
		EventError:                true,
	}
	for typ, want := range terminal {
		assert.Equal(t, want, typ.Terminal(), string(typ))
	}
}

func TestEvent_JSONShape(t *testing.T) {
	e := NewEvent("run-1", EventSegmentationComplete, SegmentationCompleteData{
		Round:       1,
		Phrase:      "dog",
		MaskIndices: []int{0, 1},
		Scores:      []float64{0.9, 0.8},
	})
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "segmentation_complete", decoded["type"])
	payload := decoded["data"].(map[string]any)
	assert.Equal(t, "dog", payload["phrase"])
	assert.Len(t, payload["mask_indices"], 2)
}
