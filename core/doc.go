// Package core provides the foundational domain types and execution
// primitives used by ReAgent. It defines the core abstractions for:
//
//   - Turns (immutable records of the reasoning loop: user, thought,
//     action and observation entries)
//   - Sessions (bounded conversational containers with FIFO history,
//     turn budgets and recursion depth accounting)
//   - Actions and Observations (tool invocation requests and their
//     one-to-one outcomes)
//   - Classified errors distinguishing recoverable tool failures from
//     fatal runtime conditions
//   - SpawnLimiter (a process wide ceiling on concurrently running
//     delegated sessions)
//   - ToolContext (the constrained surface handed to tool implementations)
//
// The package intentionally keeps implementation concerns (model transport,
// tool dispatch, loop orchestration) out of scope, exposing small types that
// the flow, agent and runner packages build on.
package core
