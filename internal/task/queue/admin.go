package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"

	"github.com/dustin/go-humanize"
)

// Verbosity selects how much of a Listing Render prints.
type Verbosity int

const (
	Brief Verbosity = iota
	Summary
	Long
)

func ParseVerbosity(s string) (Verbosity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "brief":
		return Brief, true
	case "summary":
		return Summary, true
	case "long", "all":
		return Long, true
	}
	return Brief, false
}

// PsFilter selects entries by owner and executor. Any matches all.
type PsFilter struct {
	Owner  DBRef
	Object DBRef
}

type PsItem struct {
	ID       uint64
	Player   DBRef
	Name     string
	Owner    DBRef
	Cause    DBRef
	Sem      DBRef
	Attr     AttrID
	Priority scheduler.Priority
	When     time.Time
	IsTimed  bool
	Command  string
	Args     []string
}

// Listing is a point-in-time view of the queue. Totals count every entry;
// the slices hold only those matching the filter.
type Listing struct {
	Now       time.Time
	Immediate []PsItem
	Waiting   []PsItem
	Semaphore []PsItem

	ImmediateTotal int
	WaitingTotal   int
	SemaphoreTotal int
}

// Ps lists queued work in run order.
func (q *Queue) Ps(ctx context.Context, f PsFilter) Listing {
	l := Listing{Now: q.now()}
	names := map[DBRef]string{}
	q.sched.TraverseOrdered(func(r *scheduler.Record) scheduler.Visit {
		e, ok := r.Payload.(*Entry)
		if !ok {
			return scheduler.Continue
		}
		var section *[]PsItem
		switch {
		case r.Action == scheduler.ActionSemaphoreTimeout:
			l.SemaphoreTotal++
			section = &l.Semaphore
		case !e.IsTimed || r.Ready() || !r.When.After(l.Now):
			l.ImmediateTotal++
			section = &l.Immediate
		default:
			l.WaitingTotal++
			section = &l.Waiting
		}
		if (f.Owner != Any && e.Owner != f.Owner) || (f.Object != Any && e.Player != f.Object) {
			return scheduler.Continue
		}
		name, seen := names[e.Player]
		if !seen {
			if o, err := q.store.Get(ctx, e.Player); err == nil {
				name = o.Name
			}
			names[e.Player] = name
		}
		*section = append(*section, PsItem{
			ID:       e.ID,
			Player:   e.Player,
			Name:     name,
			Owner:    e.Owner,
			Cause:    e.Cause,
			Sem:      e.Sem,
			Attr:     e.Attr,
			Priority: r.Priority,
			When:     r.When,
			IsTimed:  e.IsTimed,
			Command:  e.Command,
			Args:     e.Args,
		})
		return scheduler.Continue
	})
	return l
}

// Render formats the listing the way @ps prints it.
func (l Listing) Render(v Verbosity) string {
	var b strings.Builder
	if v != Summary {
		l.section(&b, "Immediate commands:", l.Immediate, v)
		l.section(&b, "Delayed commands:", l.Waiting, v)
		l.section(&b, "Semaphore commands:", l.Semaphore, v)
	}
	fmt.Fprintf(&b, "Totals: Queue...%d/%s  Wait...%d/%s  Semaphore...%d/%s",
		len(l.Immediate), humanize.Comma(int64(l.ImmediateTotal)),
		len(l.Waiting), humanize.Comma(int64(l.WaitingTotal)),
		len(l.Semaphore), humanize.Comma(int64(l.SemaphoreTotal)))
	return b.String()
}

func (l Listing) section(b *strings.Builder, title string, items []PsItem, v Verbosity) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteByte('\n')
	for _, it := range items {
		b.WriteString(l.line(it, v))
		b.WriteByte('\n')
	}
}

func (l Listing) line(it PsItem, v Verbosity) string {
	var prefix string
	switch {
	case it.Sem != storage.Nothing && it.IsTimed:
		prefix = fmt.Sprintf("[%s/%s/%d]", it.Sem, it.Attr, secondsUntil(l.Now, it.When))
	case it.Sem != storage.Nothing:
		prefix = fmt.Sprintf("[%s/%s]", it.Sem, it.Attr)
	case it.IsTimed && it.When.After(l.Now):
		prefix = fmt.Sprintf("[%d]", secondsUntil(l.Now, it.When))
	}
	who := it.Player.String()
	if it.Name != "" {
		who = it.Name + "(" + who + ")"
	}
	s := prefix + who + ":" + it.Command
	if v != Long {
		return s
	}
	var extra []string
	extra = append(extra, "cause="+it.Cause.String(), "prio="+it.Priority.String())
	if it.IsTimed {
		extra = append(extra, "due "+humanize.RelTime(it.When, l.Now, "ago", "from now"))
	}
	for i, a := range it.Args {
		if a != "" {
			extra = append(extra, fmt.Sprintf("%%%d='%s'", i, a))
		}
	}
	return s + "  [" + strings.Join(extra, " ") + "]"
}

func secondsUntil(now, when time.Time) int64 {
	d := when.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Kick runs up to n ready entries now, even while automatic dequeueing is
// disabled, and returns how many ran.
func (q *Queue) Kick(ctx context.Context, n int) int {
	if n <= 0 {
		return 0
	}
	old := q.sched.GetMinPriority()
	q.sched.SetMinPriority(scheduler.FloorDequeueEnabled)
	defer q.sched.SetMinPriority(old)
	return q.Tick(ctx, q.now(), n)
}

// Warp shifts the due time of every timed entry by delta. A negative delta
// brings them closer.
func (q *Queue) Warp(delta time.Duration) int {
	if delta == 0 {
		return 0
	}
	n := 0
	q.sched.TraverseUnordered(func(r *scheduler.Record) scheduler.Visit {
		if r.Action != scheduler.ActionRunQueueEntry && r.Action != scheduler.ActionSemaphoreTimeout {
			return scheduler.Continue
		}
		e, ok := r.Payload.(*Entry)
		if !ok || !e.IsTimed {
			return scheduler.Continue
		}
		r.When = r.When.Add(delta)
		e.When = r.When
		n++
		return scheduler.UpdateAndContinue
	})
	return n
}

// SetDequeueEnabled pauses or resumes automatic execution of player and
// object work. System ticks keep running either way.
func (q *Queue) SetDequeueEnabled(enabled bool) {
	if enabled {
		q.sched.SetMinPriority(scheduler.FloorDequeueEnabled)
		return
	}
	q.sched.SetMinPriority(scheduler.FloorDequeueDisabled)
}

func (q *Queue) DequeueEnabled() bool {
	return q.sched.GetMinPriority() >= scheduler.FloorDequeueEnabled
}
