package core

import "context"

// Engine coordinates agent runs and event emission.
//
// A concrete implementation is responsible for:
//   - Spawning asynchronous runs (Invoke) returning event + error channels
//   - Synchronous convenience execution (InvokeSync) collecting emitted events
//   - Cancelling runs between rounds (Stop)
//   - Keeping runs addressable by id while and after they execute (Run)
//
// Implementations SHOULD:
//   - Guarantee ordering of events per run
//   - Never block a run on a slow event consumer
//   - Close returned channels when a run terminates
//   - Surface terminal errors via the error channel (async) or direct return (sync)
type Engine interface {
	// Invoke starts an asynchronous run returning its id, the streamed
	// events and a terminal error channel (buffered size 1). Both channels
	// are closed when the run completes.
	Invoke(ctx context.Context, q Query) (string, <-chan Event, <-chan error, error)

	// InvokeSync executes a run to completion and returns its final record
	// together with every emitted event.
	InvokeSync(ctx context.Context, q Query) (*AgentRun, []Event, error)

	// Stop requests cancellation of an active run.
	Stop(runID string) error

	// Run returns a snapshot of an active or finished run.
	Run(runID string) (*AgentRun, error)
}
