package testutil

import (
	"encoding/json"
	"fmt"
)

// ToolReply renders a reasoning reply that calls the named tool with params,
// the way a well behaved model writes it.
func ToolReply(name string, params map[string]any) string {
	body, err := json.Marshal(map[string]any{"name": name, "parameters": params})
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("Let me think about the image.\n<tool>%s</tool>", body)
}

// Segment renders a segment_phrase reply.
func Segment(phrase string) string {
	return ToolReply("segment_phrase", map[string]any{"phrase": phrase})
}

// Examine renders an examine_each_mask reply.
func Examine(index int, accept bool, rationale string) string {
	return ToolReply("examine_each_mask", map[string]any{
		"mask_index": index,
		"verdict":    accept,
		"rationale":  rationale,
	})
}

// Select renders a select_masks_and_return reply.
func Select(indices ...int) string {
	if indices == nil {
		indices = []int{}
	}
	return ToolReply("select_masks_and_return", map[string]any{"mask_indices": indices})
}

// NoMask renders a report_no_mask reply.
func NoMask(rationale string) string {
	return ToolReply("report_no_mask", map[string]any{"rationale": rationale})
}
