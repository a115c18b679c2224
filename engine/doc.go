// Package engine manages the lifecycle of segmesh agent runs.
//
// The Engine sits between callers (the HTTP server, the CLI, the root
// package façade) and an Agent. For every query it creates an AgentRun with
// a fresh id, a cancellable context and a non-blocking stream emitter, then
// executes the agent on its own goroutine.
//
// # Core Responsibilities
//
// Admission:
//   - Bounded concurrent runs; excess runs fail fast with ErrTooManyRuns
//   - Lifecycle callbacks may reject a run before it starts
//
// Execution:
//   - One goroutine and one context per run
//   - Optional wall time limit per run
//   - Panics inside an agent end the run with the error status
//
// Event Delivery:
//   - Ordered events through a stream.Emitter that never blocks the run
//   - Exactly one terminal event per run, even when an agent misbehaves
//
// Registry:
//   - Active runs are addressable by id and can be stopped
//   - Finished runs move to a core.RunStore (in-memory or TTL cache)
//
// # Usage
//
// Streaming execution:
//
//	runID, events, errs, err := eng.Invoke(ctx, core.Query{
//	    Image:  core.ImageRef{Key: "uploads/street.png"},
//	    Phrase: "the red car",
//	})
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    handle(ev)
//	}
//	if err := <-errs; err != nil {
//	    return err
//	}
//	run, _ := eng.Run(runID)
//
// Synchronous execution:
//
//	run, events, err := eng.InvokeSync(ctx, query)
//
// Cancellation:
//
//	_ = eng.Stop(runID) // the run ends incomplete at the next round boundary
package engine
