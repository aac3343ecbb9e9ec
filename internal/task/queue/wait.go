package queue

import (
	"context"
	"fmt"
	"time"

	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// WaitSpec says how an admitted entry waits. Sem == Nothing means a plain
// timed wait.
type WaitSpec struct {
	Delay time.Duration
	Sem   DBRef
	Attr  AttrID
}

// Timed is a WaitSpec for a plain delay.
func Timed(d time.Duration) WaitSpec { return WaitSpec{Delay: d, Sem: storage.Nothing} }

// Wait admits req and parks it per spec.
func (q *Queue) Wait(ctx context.Context, req Request, spec WaitSpec) (*Entry, error) {
	e, err := q.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	if spec.Sem == storage.Nothing {
		err = q.WaitTimed(ctx, e, spec.Delay)
	} else {
		err = q.WaitOnSemaphore(ctx, e, spec.Sem, spec.Attr, spec.Delay)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// WaitTimed schedules an admitted entry. A non-positive delay makes it
// runnable at once, at player or object priority depending on its cause.
func (q *Queue) WaitTimed(ctx context.Context, e *Entry, delay time.Duration) error {
	prio := q.priorityFor(ctx, e.Cause)
	e.Sem, e.Attr = storage.Nothing, 0
	var (
		r   *scheduler.Record
		err error
	)
	if delay <= 0 {
		e.IsTimed = false
		e.When = q.now()
		r, err = q.sched.DeferImmediateTask(prio, scheduler.ActionRunQueueEntry, e, 0)
	} else {
		e.IsTimed = true
		e.When = q.now().Add(delay)
		r, err = q.sched.DeferTask(e.When, prio, scheduler.ActionRunQueueEntry, e, 0)
	}
	if err != nil {
		q.retire(ctx, e)
		return fmt.Errorf("wait: %w", err)
	}
	e.rec = r
	return nil
}

// WaitOnSemaphore blocks an admitted entry on (target, attr). attr 0 means
// the default semaphore attribute. If the counter was already negative
// (more notifies than waiters) the entry runs at once. A positive delay
// turns the wait into a timeout that behaves like a notify when it fires.
func (q *Queue) WaitOnSemaphore(ctx context.Context, e *Entry, target DBRef, attr AttrID, delay time.Duration) error {
	if target == storage.Nothing {
		q.retire(ctx, e)
		return ErrInvalidTarget
	}
	if attr == 0 {
		attr = storage.AttrSemaphore
	}
	n, err := q.addCounter(ctx, target, attr, 1)
	if err != nil {
		q.retire(ctx, e)
		return fmt.Errorf("wait: %w", err)
	}
	if n <= 0 {
		return q.WaitTimed(ctx, e, 0)
	}

	e.Sem, e.Attr = target, attr
	var r *scheduler.Record
	if delay > 0 {
		e.IsTimed = true
		e.When = q.now().Add(delay)
		r, err = q.sched.DeferTask(e.When, q.priorityFor(ctx, e.Cause), scheduler.ActionSemaphoreTimeout, e, 0)
	} else {
		e.IsTimed = false
		e.When = q.now()
		r, err = q.sched.DeferTask(e.When, scheduler.PrioritySuspend, scheduler.ActionSemaphoreTimeout, e, 0)
	}
	if err != nil {
		q.releaseCounter(ctx, e)
		q.retire(ctx, e)
		return fmt.Errorf("wait: %w", err)
	}
	e.rec = r
	return nil
}

func (q *Queue) addCounter(ctx context.Context, obj DBRef, attr AttrID, delta int64) (int64, error) {
	cur, err := q.store.AttrInt(ctx, obj, attr)
	if err != nil {
		return 0, err
	}
	cur += delta
	if err := q.store.SetAttrInt(ctx, obj, attr, cur); err != nil {
		return 0, err
	}
	return cur, nil
}

// releaseCounter gives back the count a blocked entry holds and unblocks it.
func (q *Queue) releaseCounter(ctx context.Context, e *Entry) {
	if !e.Blocked() {
		return
	}
	if _, err := q.addCounter(ctx, e.Sem, e.Attr, -1); err != nil {
		q.log.Debug("semaphore release failed", logx.Ref("sem", int64(e.Sem)), logx.String("attr", e.Attr.String()), logx.Err(err))
	}
	e.Sem, e.Attr = storage.Nothing, 0
}
