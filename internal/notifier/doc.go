// Package notifier delivers output lines to objects.
//
// The queue calls Notify from its single loop goroutine and must never block
// there, so Notify only appends to a bounded channel. A worker drains the
// channel through a transport.Adapter with a token-bucket rate limit and a
// short retry with backoff. Lines that do not fit are dropped and counted.
//
// A small in-memory history of delivered lines is kept for tests and status
// output.
package notifier
