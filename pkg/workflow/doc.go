// Package workflow executes node/edge workflow graphs.
//
// An Engine walks the graph from every trigger node that has no incoming
// edge. Each node runs once per path; its result is recorded in the run's
// result store and its output becomes visible to later templates as
// {{@nodeId:Label.path}}. Successors of a node run concurrently and the
// node waits for all of them before returning.
//
// # Node Types
//
// trigger: Builds {triggered, timestamp} merged with the trigger input or
// a webhook mock payload, and reports it to the callback.Reporter.
//
// action: Resolves templates in the config and dispatches through the
// actions.Registry. Condition actions are evaluated by the condition
// package and only continue to their successors when true.
//
// loop: Runs its direct successors as a body, sequentially, for a fixed
// count (times), over a resolved collection (forEach) or while a condition
// holds (while). Every variant stops after 100 iterations.
//
// parallel: Runs each direct successor as a branch in its own goroutine
// and joins them in all, race, any or allSettled mode. Nodes reached from
// more than one branch run once, first come first served.
//
// # Failure Containment
//
// A failing node stops only its own path. Panics are recovered at the node
// boundary and recorded as failed results. The run is successful when
// every recorded result is.
//
// # Background Branches
//
// race and any joins return as soon as they have a winner. Losing branches
// keep running; ExecutionOutput.WaitBackground waits for them and refreshes
// the output snapshots.
package workflow
