package eventbus

// Event types published by the queue and its driver.
const (
	QueueDenied  = "queue.denied"  // Data: Denial
	QueueHalted  = "queue.halted"  // Data: HaltReport
	QueueDrained = "queue.drained" // Data: DrainReport
	QueueSlow    = "queue.slow"    // Data: SlowCommand
	QueuePanic   = "queue.panic"   // Data: SlowCommand (Err set)

	EngineStarted = "engine.started"
	EngineStopped = "engine.stopped"
	EngineTick    = "engine.system_tick" // Data: string subtype
	ConfigApplied = "config.applied"     // Data: []string change summary
)

type Denial struct {
	Player int64
	Owner  int64
	Reason string
}

type HaltReport struct {
	Owner   int64 // -1 for any
	Object  int64 // -1 for any
	Removed int
	Refund  int64
}

type DrainReport struct {
	Target  int64
	Attr    string
	Removed int
	Refund  int64
}

type SlowCommand struct {
	Player  int64
	Command string
	WallMS  int64
	CPUMS   int64
	Err     string
}

// Publish is a nil-safe shortcut for b.Publish(Event{Type: typ, Data: data}).
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
