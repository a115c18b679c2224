package core

// Agent executes the run owned by a RunContext until the run reaches a
// terminal status.
//
// Implementations must:
//   - Respect cancellation of rc.Context between rounds
//   - Emit progress through rc.Emit, ending with exactly one terminal event
//   - Keep all per-run state private to the run
type Agent interface {
	Run(rc *RunContext) error
}
