package storage

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrClosed   = errors.New("storage closed")
)

// DBRef identifies an object.
type DBRef int64

// Nothing is the null reference. Filters use it to mean "any".
const Nothing DBRef = -1

func (r DBRef) String() string { return "#" + strconv.FormatInt(int64(r), 10) }

// ParseDBRef parses "#12" or "12".
func ParseDBRef(s string) (DBRef, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return Nothing, errors.New("invalid object reference: " + s)
	}
	return DBRef(n), nil
}

// Config configures storage.
//
// Driver values: "memory" (or empty), "file", "sqlite".
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal writes between snapshots
}

// Object is the persisted state of one object.
type Object struct {
	Ref        DBRef            `json:"ref"`
	Name       string           `json:"name,omitempty"`
	Owner      DBRef            `json:"owner"`
	Player     bool             `json:"player,omitempty"`
	Privileged bool             `json:"privileged,omitempty"`
	FeeExempt  bool             `json:"fee_exempt,omitempty"`
	Money      int64            `json:"money"`
	QueueMax   *int             `json:"queue_max,omitempty"`
	Queue      int              `json:"queue,omitempty"`
	Halted     bool             `json:"halted,omitempty"`
	CPU        time.Duration    `json:"cpu_ns,omitempty"`
	Attrs      map[AttrID]int64 `json:"attrs,omitempty"`
}

func (o Object) clone() Object {
	cp := o
	if o.QueueMax != nil {
		v := *o.QueueMax
		cp.QueueMax = &v
	}
	if len(o.Attrs) > 0 {
		cp.Attrs = make(map[AttrID]int64, len(o.Attrs))
		for k, v := range o.Attrs {
			cp.Attrs[k] = v
		}
	} else {
		cp.Attrs = nil
	}
	return cp
}

// Store is the object database API used by the queue and the evaluator.
type Store interface {
	Get(ctx context.Context, obj DBRef) (Object, error)
	Put(ctx context.Context, o Object) error

	Owner(ctx context.Context, obj DBRef) (DBRef, error)
	IsPlayer(ctx context.Context, obj DBRef) (bool, error)
	Privileged(ctx context.Context, obj DBRef) (bool, error)
	FeeExempt(ctx context.Context, obj DBRef) (bool, error)

	Money(ctx context.Context, obj DBRef) (int64, error)
	// AddMoney adjusts the balance. A debit that would go negative is
	// refused with ok=false and leaves the balance unchanged.
	AddMoney(ctx context.Context, obj DBRef, delta int64) (ok bool, err error)

	QueueCount(ctx context.Context, owner DBRef) (int, error)
	SetQueueCount(ctx context.Context, owner DBRef, n int) error
	// QueueMax returns the explicit queue ceiling, if one is set.
	QueueMax(ctx context.Context, owner DBRef) (n int, ok bool, err error)

	Halted(ctx context.Context, obj DBRef) (bool, error)
	SetHalted(ctx context.Context, obj DBRef, halted bool) error

	AttrInt(ctx context.Context, obj DBRef, attr AttrID) (int64, error)
	// SetAttrInt stores v; zero clears the attribute.
	SetAttrInt(ctx context.Context, obj DBRef, attr AttrID, v int64) error

	AddCPU(ctx context.Context, obj DBRef, d time.Duration) error
	CPU(ctx context.Context, obj DBRef) (time.Duration, error)

	ObjectCount(ctx context.Context) (int, error)
	// Checkpoint flushes durable drivers. It is a no-op for memory.
	Checkpoint(ctx context.Context) error
	Close() error
}
