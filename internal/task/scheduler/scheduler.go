package scheduler

import (
	"sort"
	"time"

	logx "mushqueue/pkg/logx"
)

type Scheduler struct {
	clock Clock
	log   logx.Logger

	when      recordHeap
	ready     recordHeap
	suspended map[*Record]struct{}

	handlers    Handlers
	minPriority Priority
	readyMark   time.Time

	seq    uint64
	closed bool
}

// New returns an empty scheduler with automatic dequeueing enabled.
func New(clock Clock, log logx.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		clock:       clock,
		log:         log,
		when:        recordHeap{less: byWhen, loc: locWhen},
		ready:       recordHeap{less: byPriority, loc: locReady},
		suspended:   map[*Record]struct{}{},
		minPriority: FloorDequeueEnabled,
	}
}

// Bind installs the per-action handlers used by RunTasks.
func (s *Scheduler) Bind(h Handlers) { s.handlers = h }

func (s *Scheduler) Clock() Clock { return s.clock }

// DeferTask files a record due at when.
func (s *Scheduler) DeferTask(when time.Time, prio Priority, action Action, payload any, aux int) (*Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.seq++
	r := &Record{When: when, Priority: prio, Action: action, Payload: payload, Aux: aux, seq: s.seq, index: -1}
	s.place(r)
	return r, nil
}

// DeferImmediateTask files a record due now that RunTasks may pick without a
// prior ReadyTasks call.
func (s *Scheduler) DeferImmediateTask(prio Priority, action Action, payload any, aux int) (*Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.seq++
	r := &Record{When: s.clock.Now(), Priority: prio, Action: action, Payload: payload, Aux: aux, seq: s.seq, index: -1, immediate: true}
	s.place(r)
	return r, nil
}

func (s *Scheduler) place(r *Record) {
	switch {
	case r.Priority >= PrioritySuspend:
		r.immediate = false
		r.index = -1
		r.loc = locSuspended
		s.suspended[r] = struct{}{}
	case r.immediate || !r.When.After(s.readyMark):
		s.ready.push(r)
	default:
		s.when.push(r)
	}
}

func (s *Scheduler) unplace(r *Record) {
	switch r.loc {
	case locWhen:
		s.when.remove(r)
	case locReady:
		s.ready.remove(r)
	case locSuspended:
		delete(s.suspended, r)
		r.loc = locNone
	}
	r.index = -1
}

// ReadyTasks marks every non-suspended record due at or before now as
// eligible for RunTasks.
func (s *Scheduler) ReadyTasks(now time.Time) {
	if now.After(s.readyMark) {
		s.readyMark = now
	}
	for {
		r := s.when.peek()
		if r == nil || r.When.After(now) {
			return
		}
		s.when.pop()
		s.ready.push(r)
	}
}

// RunTasks pops up to max ready records, lowest band first, and hands each to
// its handler after it has left the scheduler. Records above the min priority
// floor stay put. Handlers may defer new work and may traverse; records they
// defer as immediate can be picked up by the same call.
func (s *Scheduler) RunTasks(max int) int {
	n := 0
	for n < max {
		r := s.ready.peek()
		if r == nil || r.Priority > s.minPriority {
			break
		}
		s.ready.pop()
		r.immediate = false
		n++
		s.dispatch(r)
	}
	return n
}

func (s *Scheduler) dispatch(r *Record) {
	var fn func(*Record)
	switch r.Action {
	case ActionRunQueueEntry:
		fn = s.handlers.RunQueueEntry
	case ActionSemaphoreTimeout:
		fn = s.handlers.SemaphoreTimeout
	case ActionSystemTick:
		fn = s.handlers.SystemTick
	}
	if fn == nil {
		s.log.Warn("no handler for task; dropped", logx.String("action", r.Action.String()), logx.Int("aux", r.Aux))
		return
	}
	fn(r)
}

func (s *Scheduler) GetMinPriority() Priority { return s.minPriority }

func (s *Scheduler) SetMinPriority(p Priority) { s.minPriority = p }

func (s *Scheduler) Len() int { return s.when.Len() + s.ready.Len() + len(s.suspended) }

func (s *Scheduler) Counts() Counts {
	return Counts{Ready: s.ready.Len(), Waiting: s.when.Len(), Suspended: len(s.suspended)}
}

// Close drops every record. Later Defer calls fail with ErrClosed.
func (s *Scheduler) Close() {
	for _, r := range s.snapshot() {
		s.unplace(r)
	}
	s.closed = true
}

// TraverseUnordered visits every record in storage order.
func (s *Scheduler) TraverseUnordered(cb func(r *Record) Visit) {
	s.traverse(s.snapshot(), cb)
}

// TraverseOrdered visits every record by band, then due time, then insertion.
func (s *Scheduler) TraverseOrdered(cb func(r *Record) Visit) {
	recs := s.snapshot()
	sort.Slice(recs, func(i, j int) bool { return byPriority(recs[i], recs[j]) })
	s.traverse(recs, cb)
}

func (s *Scheduler) snapshot() []*Record {
	out := make([]*Record, 0, s.Len())
	out = append(out, s.ready.items...)
	out = append(out, s.when.items...)
	for r := range s.suspended {
		out = append(out, r)
	}
	return out
}

// traverse walks a snapshot, so callbacks may defer new records freely. A
// record removed by nested work before its turn is skipped, and a callback
// result is ignored if the record vanished during the callback.
func (s *Scheduler) traverse(recs []*Record, cb func(r *Record) Visit) {
	for _, r := range recs {
		if !r.Live() {
			continue
		}
		v := cb(r)
		if !r.Live() {
			if v == Stop {
				return
			}
			continue
		}
		switch v {
		case Stop:
			return
		case RemoveAndContinue:
			s.unplace(r)
		case UpdateAndContinue:
			s.unplace(r)
			s.place(r)
		}
	}
}
