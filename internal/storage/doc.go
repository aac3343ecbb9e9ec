// Package storage is the object database seen by the command queue.
//
// It keeps the handful of per-object values the queue reads and writes:
// owner, player/privilege flags, money, queue ledger and ceiling, halted
// flag, integer attributes (semaphore counters) and lifetime CPU time.
//
// All drivers share the in-memory object table (memStore). Durable drivers
// write every mutation through to their backing medium:
//   - "memory": nothing is persisted (default, tests)
//   - "file":   JSON snapshot + JSON Lines journal on an afero filesystem
//   - "sqlite": one row per object in a SQLite database (modernc.org/sqlite)
package storage
