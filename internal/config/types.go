package config

// Config is the on-disk configuration. YAML files are converted to JSON and
// decoded strictly, so unknown keys are errors in both formats.
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Queue    QueueConfig     `json:"queue"`
	Engine   EngineConfig    `json:"engine"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Console  ConsoleConfig   `json:"console"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Objects are created at startup when the store does not already hold
	// them. Existing objects are left alone.
	Objects []ObjectSeed `json:"objects,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig holds the accounting knobs.
//
// WaitCost is a pointer so an explicit 0 can be rejected instead of being
// mistaken for "omitted".
//
// Defaults (when fields are omitted/zero):
//   - wait_cost: 10 (must be >= 1 when set)
//   - machine_cost: 64 (negative disables the surcharge)
//   - queue_max: 100
//   - nest_limit: 50
//   - slow_command: "5s"
type QueueConfig struct {
	WaitCost    *int64 `json:"wait_cost,omitempty"`
	MachineCost int    `json:"machine_cost,omitempty"`
	QueueMax    int    `json:"queue_max,omitempty"`
	NestLimit   int    `json:"nest_limit,omitempty"`
	// SlowCommand is a Go duration string or a number of seconds.
	SlowCommand string `json:"slow_command,omitempty"`
}

// EngineConfig controls the driver loop.
//
// Enabled is a pointer so we can distinguish "omitted" (defaults to true)
// from an explicit false.
type EngineConfig struct {
	Enabled       *bool       `json:"enabled,omitempty"`
	TickInterval  string      `json:"tick_interval,omitempty"`
	BatchSize     int         `json:"batch_size,omitempty"`
	InboxSize     int         `json:"inbox_size,omitempty"`
	DequeuePaused bool        `json:"dequeue_paused,omitempty"`
	Ticks         TicksConfig `json:"ticks"`
}

// TicksConfig holds cron specs for periodic system work, e.g. "@every 1m"
// or "*/5 * * * *". Empty disables a tick.
type TicksConfig struct {
	Heartbeat   string `json:"heartbeat,omitempty"`
	LedgerAudit string `json:"ledger_audit,omitempty"`
	Checkpoint  string `json:"checkpoint,omitempty"`
}

// StorageConfig selects the object store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mushqueue.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactEvery int    `json:"compact_every,omitempty"`
}

// ConsoleConfig controls the stdin/stdout transport.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
	// DefaultPlayer runs lines that do not start with "#<ref>". Empty
	// drops them.
	DefaultPlayer string `json:"default_player,omitempty"`
}

// NotifierConfig controls output delivery. If the whole section is omitted
// the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

type ObjectSeed struct {
	Ref        string `json:"ref"`
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"` // empty: the object owns itself
	Player     bool   `json:"player,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`
	FeeExempt  bool   `json:"fee_exempt,omitempty"`
	Money      int64  `json:"money,omitempty"`
	QueueMax   *int   `json:"queue_max,omitempty"`
}
