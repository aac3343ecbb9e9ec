package engine

import (
	"time"

	"mushqueue/internal/task/scheduler"
)

// Config controls the driver loop. The queue's own accounting knobs live in
// queue.Config.
type Config struct {
	Enabled bool

	// TickInterval is how often due records are promoted and run.
	TickInterval time.Duration
	// BatchSize caps records run per tick.
	BatchSize int
	// InboxSize bounds pending Do/Submit calls.
	InboxSize int

	// DequeuePaused starts with automatic dequeueing disabled; only system
	// ticks run until it is resumed or work is kicked.
	DequeuePaused bool

	Ticks TickSpecs
}

// TickSpecs are cron specs (robfig/cron syntax, e.g. "@every 1m").
// Empty disables a tick.
type TickSpecs struct {
	Heartbeat   string
	LedgerAudit string
	Checkpoint  string
}

const (
	DefaultTickInterval = 10 * time.Millisecond
	DefaultBatchSize    = 500
	DefaultInboxSize    = 256
)

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	return c
}

// System tick subtypes carried in scheduler.Record.Aux.
const (
	TickHeartbeat = iota + 1
	TickLedgerAudit
	TickCheckpoint
)

func tickName(sub int) string {
	switch sub {
	case TickHeartbeat:
		return "heartbeat"
	case TickLedgerAudit:
		return "ledger_audit"
	case TickCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the driver.
type Status struct {
	Enabled        bool
	Running        bool
	DequeueEnabled bool
	Counts         scheduler.Counts
	InboxLen       int
	InboxCap       int
	Ticks          uint64
	Ran            uint64
	Dropped        uint64
	Restarts       uint64
}
