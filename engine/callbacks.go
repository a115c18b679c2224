package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
)

// CallbackType defines the lifecycle points of a run where callbacks are
// executed.
//
// Available callback types:
//   - BeforeRun: after the run record exists, before the agent starts
//   - AfterRun: once the run reached its terminal status
//   - OnError: when a run ended in the error status
//
// Callbacks are executed synchronously. A BeforeRun callback returning an
// error rejects the run; errors of the other types are logged.
type CallbackType string

const (
	// CallbackBeforeRun is triggered before the agent begins execution.
	// Use for admission checks, validation or instrumentation.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered after a run finished, whatever its status.
	// Use for cleanup, auditing or post-processing of artifacts.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackOnError is triggered when a run ended in the error status.
	// Use for alerting.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext provides the run information a callback may act on.
type CallbackContext struct {
	// Run is a snapshot of the run at the time the callback fires.
	Run *core.AgentRun

	// Err is the terminal error of the run, if any.
	Err error

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for run lifecycle hooks.
//
// Implementations should be fast, as they run on the run's goroutine, and
// must be safe for concurrent use across runs.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterRun,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("run %s finished: %s", cc.Run.ID, cc.Run.Status)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps callbacks per type and executes them in
// registration order. Execution stops at the first error.
//
// Registration and execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all callbacks registered for callbackType and
// returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	if callbackCtx.CallbackType == "" {
		callbackCtx.CallbackType = callbackType
	}

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one structured log line per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback. A nil logger makes
// the callback a no-op.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event with the run's id, phrase and status.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	run := callbackCtx.Run
	if run == nil {
		return nil
	}

	args := []any{
		"callback", string(c.callbackType),
		"run_id", run.ID,
		"phrase", run.Query.Phrase,
		"status", string(run.Status),
		"rounds", len(run.Rounds),
	}
	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err)
		c.logger.Warn("run lifecycle", args...)
		return nil
	}
	c.logger.Info("run lifecycle", args...)

	return nil
}

// QueryValidationCallback rejects runs whose query fails a custom check
// before any service is called.
//
// Example:
//
//	maxLen := func(q core.Query) error {
//	    if len(q.Phrase) > 200 {
//	        return errors.New("phrase too long")
//	    }
//	    return nil
//	}
//	callback := NewQueryValidationCallback(maxLen)
type QueryValidationCallback struct {
	validator func(q core.Query) error
}

// NewQueryValidationCallback creates a new query validation callback.
func NewQueryValidationCallback(validator func(q core.Query) error) *QueryValidationCallback {
	return &QueryValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackBeforeRun).
func (c *QueryValidationCallback) Type() CallbackType {
	return CallbackBeforeRun
}

// Execute validates the run's query.
func (c *QueryValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator == nil || callbackCtx.Run == nil {
		return nil
	}
	return c.validator(callbackCtx.Run.Query)
}
