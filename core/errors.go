package core

import (
	"errors"
	"fmt"
	"time"
)

// Error classes. Typed errors below match their class via errors.Is.
var (
	ErrParse               = errors.New("parse error")
	ErrValidation          = errors.New("validation error")
	ErrServiceTimeout      = errors.New("service timeout")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrRoundBudgetExceeded = errors.New("round budget exceeded")

	// Parse error kinds; each also matches ErrParse.
	ErrUnknownTool      = errors.New("unknown tool")
	ErrNoToolCall       = errors.New("no tool call")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ParseErrorKind distinguishes the three tool-call parse failures.
type ParseErrorKind string

const (
	ParseUnknownTool      ParseErrorKind = "unknown_tool"
	ParseNoToolCall       ParseErrorKind = "no_tool_call"
	ParseInvalidArguments ParseErrorKind = "invalid_arguments"
)

// ParseError reports a tool call that could not be extracted or decoded from
// the reasoning output.
type ParseError struct {
	Kind    ParseErrorKind `json:"kind"`
	Tool    string         `json:"tool,omitempty"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("parse error [%s] in %s: %s", e.Kind, e.Tool, e.Message)
	}
	return fmt.Sprintf("parse error [%s]: %s", e.Kind, e.Message)
}

// Is matches ErrParse and the sentinel of the error's kind.
func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrParse:
		return true
	case ErrUnknownTool:
		return e.Kind == ParseUnknownTool
	case ErrNoToolCall:
		return e.Kind == ParseNoToolCall
	case ErrInvalidArguments:
		return e.Kind == ParseInvalidArguments
	}
	return false
}

// ValidationError reports tool arguments that reference state which does not exist.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IndexOutOfRangeError reports a mask index that was never produced in the run.
type IndexOutOfRangeError struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

func (e *IndexOutOfRangeError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("mask index %d out of range: no masks produced yet", e.Index)
	}
	return fmt.Sprintf("mask index %d out of range: valid indices are 0..%d", e.Index, e.Count-1)
}

// Is matches ErrValidation.
func (e *IndexOutOfRangeError) Is(target error) bool { return target == ErrValidation }

// ServiceTimeoutError reports an external service that did not answer in time.
type ServiceTimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *ServiceTimeoutError) Error() string {
	return fmt.Sprintf("%s service timed out after %s", e.Service, e.Timeout)
}

// Is matches ErrServiceTimeout.
func (e *ServiceTimeoutError) Is(target error) bool { return target == ErrServiceTimeout }

// ServiceUnavailableError reports an external service failure.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// Is matches ErrServiceUnavailable.
func (e *ServiceUnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

// RoundBudgetExceededError ends a run that used all rounds without a terminal tool.
type RoundBudgetExceededError struct {
	MaxRounds int
}

func (e *RoundBudgetExceededError) Error() string {
	return fmt.Sprintf("round budget of %d exhausted without a terminal tool call", e.MaxRounds)
}

// Is matches ErrRoundBudgetExceeded.
func (e *RoundBudgetExceededError) Is(target error) bool { return target == ErrRoundBudgetExceeded }

// IsRecoverable reports whether err may be fed back to the Reasoning Service
// as a corrective message within the round's retry budget.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrServiceTimeout) ||
		errors.Is(err, ErrServiceUnavailable)
}
