package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("scheduler closed")

// Priority is a scheduling band. Lower values run first.
type Priority int

const (
	PrioritySystem  Priority = 100
	PriorityPlayer  Priority = 200
	PriorityObject  Priority = 300
	PrioritySuspend Priority = 400
)

// Floors for SetMinPriority. With the disabled floor only system work runs.
const (
	FloorDequeueEnabled  = PriorityObject
	FloorDequeueDisabled = PriorityPlayer - 1
)

func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "system"
	case PriorityPlayer:
		return "player"
	case PriorityObject:
		return "object"
	case PrioritySuspend:
		return "suspend"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Action is the closed set of things a record can do when it runs.
type Action int

const (
	ActionRunQueueEntry Action = iota + 1
	ActionSemaphoreTimeout
	// ActionSystemTick carries its subtype in Record.Aux.
	ActionSystemTick
)

func (a Action) String() string {
	switch a {
	case ActionRunQueueEntry:
		return "run"
	case ActionSemaphoreTimeout:
		return "semaphore"
	case ActionSystemTick:
		return "system"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Visit is returned by traversal callbacks.
type Visit int

const (
	Continue Visit = iota
	Stop
	RemoveAndContinue
	// UpdateAndContinue re-files the record after the callback mutated
	// When, Priority, Action, Payload or Aux.
	UpdateAndContinue
)

type location uint8

const (
	locNone location = iota
	locWhen
	locReady
	locSuspended
)

// Record is one scheduled unit of work. The Scheduler owns it; callers only
// mutate it from inside a traversal callback that returns UpdateAndContinue.
type Record struct {
	When     time.Time
	Priority Priority
	Action   Action
	Payload  any
	Aux      int

	seq       uint64
	index     int
	loc       location
	immediate bool
}

// MarkImmediate makes an updated record runnable without waiting for the
// next ReadyTasks call.
func (r *Record) MarkImmediate() { r.immediate = true }

// Live reports whether the record is still held by a scheduler.
func (r *Record) Live() bool { return r != nil && r.loc != locNone }

// Ready reports whether the record sits in the ready heap.
func (r *Record) Ready() bool { return r != nil && r.loc == locReady }

// Handlers receives records popped by RunTasks, one field per Action.
type Handlers struct {
	RunQueueEntry    func(r *Record)
	SemaphoreTimeout func(r *Record)
	SystemTick       func(r *Record)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Counts is a point-in-time size breakdown.
type Counts struct {
	Ready     int
	Waiting   int
	Suspended int
}

func (c Counts) Total() int { return c.Ready + c.Waiting + c.Suspended }
