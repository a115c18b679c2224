package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		class       error
		recoverable bool
	}{
		{"unknown tool", &ParseError{Kind: ParseUnknownTool, Tool: "zoom"}, ErrUnknownTool, true},
		{"no tool call", &ParseError{Kind: ParseNoToolCall}, ErrNoToolCall, true},
		{"invalid arguments", &ParseError{Kind: ParseInvalidArguments, Tool: "segment_phrase"}, ErrInvalidArguments, true},
		{"validation", &ValidationError{Field: "phrase", Message: "empty"}, ErrValidation, true},
		{"index out of range", &IndexOutOfRangeError{Index: 4, Count: 2}, ErrValidation, true},
		{"timeout", &ServiceTimeoutError{Service: "segmentation", Timeout: time.Second}, ErrServiceTimeout, true},
		{"unavailable", &ServiceUnavailableError{Service: "reasoning", Err: errors.New("503")}, ErrServiceUnavailable, true},
		{"budget", &RoundBudgetExceededError{MaxRounds: 3}, ErrRoundBudgetExceeded, false},
		{"cancelled", context.Canceled, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("round 1: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.class)
			assert.Equal(t, tt.recoverable, IsRecoverable(wrapped))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestParseError_KindsDoNotCrossMatch(t *testing.T) {
	err := &ParseError{Kind: ParseNoToolCall}
	assert.ErrorIs(t, err, ErrParse)
	assert.NotErrorIs(t, err, ErrUnknownTool)
	assert.NotErrorIs(t, err, ErrInvalidArguments)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestServiceUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ServiceUnavailableError{Service: "segmentation", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestIndexOutOfRangeError_Message(t *testing.T) {
	assert.Contains(t, (&IndexOutOfRangeError{Index: 0}).Error(), "no masks")
	assert.Contains(t, (&IndexOutOfRangeError{Index: 5, Count: 3}).Error(), "0..2")
}
