// Package queue turns game commands into scheduler records and back.
//
// A command is admitted by Enqueue (halted check, deposit, quota), parked by
// WaitTimed or WaitOnSemaphore, released by Notify, discarded by Drain or
// Halt, and finally executed by the RunQueueEntry handler, which hands the
// command text to an Evaluator and charges the CPU it used to the executor.
//
// Queue is not goroutine-safe. Everything runs on the goroutine that drives
// the scheduler (see internal/task/engine), including evaluator callbacks.
package queue
