// Package agent contains the Agent Orchestrator: the round-by-round state
// machine that alternates between the Reasoning Service and the tool
// dispatcher until a terminal tool fires, the round budget is exhausted or
// an unrecoverable failure occurs.
//
// Execution model:
//   - Agent.Run receives a *core.RunContext owning one AgentRun
//   - every round asks the model for one reply, parses exactly one tool
//     call from it and dispatches that call
//   - recoverable failures (parse, validation, service) are fed back as a
//     corrective tool message and retried inside the same round
//   - progress is published through the RunContext's event sink
//
// An Agent holds no per-run state and can execute many runs concurrently.
// Conversation, rounds and the phrase cache live in the per-run runner.
package agent
