package notifier

import (
	"time"

	"mushqueue/internal/storage"
)

// Config controls the async output pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At   time.Time
	To   storage.DBRef
	Text string
}

// Event types published on the bus.
const (
	EventDropped = "notifier.dropped"
	EventFailed  = "notifier.failed"
)

// DeliveryEvent is the Data of notifier events.
type DeliveryEvent struct {
	To    int64     `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
