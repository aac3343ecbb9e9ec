package queue

import (
	"context"
	"time"

	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
)

type (
	DBRef  = storage.DBRef
	AttrID = storage.AttrID
)

// Any is the wildcard for Halt and Ps filters.
const Any = storage.Nothing

const (
	MaxArgs      = 10
	MaxRegisters = 10
)

// Request describes a command to admit.
type Request struct {
	Player  DBRef // executor
	Cause   DBRef // enactor
	Caller  DBRef
	Command string

	Args      []string
	Registers []string
}

// Entry is one pending command. It belongs to exactly one scheduler record
// from the time it is waited until it runs, is halted, or is drained.
type Entry struct {
	ID     uint64
	Player DBRef
	Owner  DBRef
	Cause  DBRef
	Caller DBRef

	// Sem is Nothing unless the entry is blocked on (Sem, Attr).
	Sem     DBRef
	Attr    AttrID
	IsTimed bool
	When    time.Time

	Command   string
	Args      []string
	Registers []string

	// Cost is the refundable part of what admission charged.
	Cost   int64
	Queued time.Time

	rec *scheduler.Record
}

// Blocked reports whether the entry waits on a semaphore.
func (e *Entry) Blocked() bool { return e.Sem != storage.Nothing }

func newEntry(id uint64, owner DBRef, req Request, now time.Time) *Entry {
	return &Entry{
		ID:        id,
		Player:    req.Player,
		Owner:     owner,
		Cause:     req.Cause,
		Caller:    req.Caller,
		Sem:       storage.Nothing,
		When:      now,
		Command:   req.Command,
		Args:      bounded(req.Args, MaxArgs),
		Registers: bounded(req.Registers, MaxRegisters),
		Queued:    now,
	}
}

func bounded(in []string, max int) []string {
	if len(in) == 0 {
		return nil
	}
	if len(in) > max {
		in = in[:max]
	}
	return append([]string(nil), in...)
}

// priorityFor puts work caused by players ahead of work caused by objects.
func (q *Queue) priorityFor(ctx context.Context, cause DBRef) scheduler.Priority {
	if cause == storage.Nothing {
		return scheduler.PriorityObject
	}
	player, err := q.store.IsPlayer(ctx, cause)
	if err == nil && player {
		return scheduler.PriorityPlayer
	}
	return scheduler.PriorityObject
}
