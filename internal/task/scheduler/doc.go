// Package scheduler holds the deferred-task collection behind the command queue.
//
// Records are kept in three places:
//   - a "when" heap of timed records waiting for their due time
//   - a "ready" heap ordered by priority band, then due time
//   - a suspended set (PrioritySuspend) that time never promotes
//
// ReadyTasks moves due records from the when heap to the ready heap and
// RunTasks pops a bounded batch from the ready heap. Nothing here is
// goroutine-safe: the engine drives a Scheduler from a single goroutine.
package scheduler
