package logging

import (
	"fmt"
	"time"
)

// The helpers below accept any Logger. A *SegmeshLogger gets its typed
// fields and domain messages; other loggers receive the same facts as
// key/value pairs.

// ForRun scopes l to a run.
func ForRun(l Logger, runID string) Logger {
	if sl, ok := l.(*SegmeshLogger); ok {
		return sl.WithRun(runID)
	}
	return With(l, "run_id", runID)
}

// ForRound scopes l to a round of the current run.
func ForRound(l Logger, round int) Logger {
	if sl, ok := l.(*SegmeshLogger); ok {
		return sl.WithRound(round)
	}
	return With(l, "round", round)
}

// ReasoningCall records one Reasoning Service call.
func ReasoningCall(l Logger, model string, chars int, dur time.Duration, err error) {
	if sl, ok := l.(*SegmeshLogger); ok {
		sl.LogReasoningCall(model, chars, dur, err == nil, err)
		return
	}
	if err != nil {
		l.Warn("Reasoning call failed", "model", model, "duration", dur, "error", err)
		return
	}
	l.Debug("Reasoning call completed", "model", model, "output_chars", chars, "duration", dur)
}

// Segmentation records a segmentation of phrase, served fresh or from the
// run's phrase cache.
func Segmentation(l Logger, phrase string, masks int, cached bool, dur time.Duration, err error) {
	if sl, ok := l.(*SegmeshLogger); ok {
		sl.LogSegmentation(phrase, masks, cached, dur, err)
		return
	}
	if err != nil {
		l.Warn("Segmentation failed", "phrase", phrase, "duration", dur, "error", err)
		return
	}
	l.Debug("Segmentation completed", "phrase", phrase, "mask_count", masks, "cached", cached, "duration", dur)
}

// ToolDispatch records the execution of one parsed tool call.
func ToolDispatch(l Logger, tool string, dur time.Duration, err error) {
	if sl, ok := l.(*SegmeshLogger); ok {
		sl.LogToolDispatch(tool, dur, err == nil, err)
		return
	}
	if err != nil {
		l.Warn("Tool dispatch failed", "tool_name", tool, "duration", dur, "error", err)
		return
	}
	l.Debug("Tool dispatch completed", "tool_name", tool, "duration", dur)
}

// ErrorStack logs err with the current goroutine's stack.
func ErrorStack(l Logger, err error, msg string, args ...any) {
	if sl, ok := l.(*SegmeshLogger); ok {
		sl.ErrorWithStack(err, msg, args...)
		return
	}
	l.Error(msg, append([]any{"error", err, "error_type", fmt.Sprintf("%T", err)}, args...)...)
}

// With returns a Logger that prepends args to every entry.
func With(l Logger, args ...any) Logger {
	if sl, ok := l.(*SegmeshLogger); ok {
		nl := sl.clone()
		for _, a := range argsToAttrs(args) {
			nl.context[a.Key] = a.Value.Any()
		}
		return nl
	}
	if _, ok := l.(NoOpLogger); ok {
		return l
	}
	if w, ok := l.(*withArgs); ok {
		return &withArgs{next: w.next, args: append(append([]any{}, w.args...), args...)}
	}
	return &withArgs{next: l, args: args}
}

type withArgs struct {
	next Logger
	args []any
}

func (w *withArgs) Debug(msg string, args ...any) { w.next.Debug(msg, w.join(args)...) }
func (w *withArgs) Info(msg string, args ...any)  { w.next.Info(msg, w.join(args)...) }
func (w *withArgs) Warn(msg string, args ...any)  { w.next.Warn(msg, w.join(args)...) }
func (w *withArgs) Error(msg string, args ...any) { w.next.Error(msg, w.join(args)...) }

func (w *withArgs) join(args []any) []any {
	return append(append(make([]any, 0, len(w.args)+len(args)), w.args...), args...)
}
