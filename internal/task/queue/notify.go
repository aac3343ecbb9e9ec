package queue

import (
	"context"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// blockedOn reports whether r is a semaphore wait on target matching attr.
// attr 0 matches any attribute.
func blockedOn(r *scheduler.Record, target DBRef, attr AttrID) (*Entry, bool) {
	if r.Action != scheduler.ActionSemaphoreTimeout {
		return nil, false
	}
	e, ok := r.Payload.(*Entry)
	if !ok || e.Sem != target {
		return nil, false
	}
	if attr != 0 && e.Attr != attr {
		return nil, false
	}
	return e, true
}

// Notify releases up to count entries blocked on (target, attr), in
// priority then due-time order, and returns how many it released. The
// stored counter drops by count whether or not that many were waiting, so
// surplus notifies let later waits run at once. With attr 0 each released
// entry decrements the counter it was blocked on instead.
func (q *Queue) Notify(ctx context.Context, target DBRef, attr AttrID, count int) int {
	if count <= 0 || target == storage.Nothing {
		return 0
	}
	if attr != 0 {
		if _, err := q.addCounter(ctx, target, attr, -int64(count)); err != nil {
			q.log.Debug("semaphore decrement failed", logx.Ref("sem", int64(target)), logx.Err(err))
		}
	}

	now := q.now()
	converted := 0
	q.sched.TraverseOrdered(func(r *scheduler.Record) scheduler.Visit {
		if converted >= count {
			return scheduler.Stop
		}
		e, ok := blockedOn(r, target, attr)
		if !ok {
			return scheduler.Continue
		}
		if attr == 0 {
			// no single counter was charged up front; each release pays its own
			q.releaseCounter(ctx, e)
		}
		e.Sem, e.Attr = storage.Nothing, 0
		e.IsTimed = false
		e.When = now
		r.Priority = q.priorityFor(ctx, e.Cause)
		r.When = now
		r.Action = scheduler.ActionRunQueueEntry
		r.MarkImmediate()
		converted++
		return scheduler.UpdateAndContinue
	})
	return converted
}

// NotifyAll releases as many entries as the counter on (target, attr) says
// are waiting.
func (q *Queue) NotifyAll(ctx context.Context, target DBRef, attr AttrID) int {
	if attr == 0 {
		attr = storage.AttrSemaphore
	}
	n, err := q.store.AttrInt(ctx, target, attr)
	if err != nil || n <= 0 {
		return 0
	}
	return q.Notify(ctx, target, attr, int(n))
}

// Drain discards every entry blocked on (target, attr), refunding each, and
// clears the counter. attr 0 drains every attribute on target.
func (q *Queue) Drain(ctx context.Context, target DBRef, attr AttrID) int {
	if target == storage.Nothing {
		return 0
	}
	var refund int64
	removed := 0
	attrs := map[AttrID]struct{}{}
	if attr != 0 {
		attrs[attr] = struct{}{}
	} else {
		attrs[storage.AttrSemaphore] = struct{}{}
	}
	q.sched.TraverseUnordered(func(r *scheduler.Record) scheduler.Visit {
		e, ok := blockedOn(r, target, attr)
		if !ok {
			return scheduler.Continue
		}
		attrs[e.Attr] = struct{}{}
		refund += e.Cost
		removed++
		e.Sem, e.Attr = storage.Nothing, 0
		q.retire(ctx, e)
		return scheduler.RemoveAndContinue
	})
	for a := range attrs {
		if err := q.store.SetAttrInt(ctx, target, a, 0); err != nil {
			q.log.Debug("semaphore clear failed", logx.Ref("sem", int64(target)), logx.String("attr", a.String()), logx.Err(err))
		}
	}
	if removed > 0 {
		q.publish(eventbus.QueueDrained, eventbus.DrainReport{Target: int64(target), Attr: attr.String(), Removed: removed, Refund: refund})
	}
	return removed
}
