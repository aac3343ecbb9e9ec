package queue

import (
	"context"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// Halt discards queued and blocked entries owned by owner and run by
// object; Any matches everything. Each owner gets its deposits back in one
// payment. Halting everything of one owner zeroes its ledger outright.
// Naming an object also flags it halted so later admissions fail until
// Restart. Returns the number of entries removed.
func (q *Queue) Halt(ctx context.Context, owner, object DBRef) int {
	refunds := map[DBRef]int64{}
	removed := map[DBRef]int{}
	total := 0
	q.sched.TraverseUnordered(func(r *scheduler.Record) scheduler.Visit {
		if r.Action != scheduler.ActionRunQueueEntry && r.Action != scheduler.ActionSemaphoreTimeout {
			return scheduler.Continue
		}
		e, ok := r.Payload.(*Entry)
		if !ok {
			return scheduler.Continue
		}
		if owner != Any && e.Owner != owner {
			return scheduler.Continue
		}
		if object != Any && e.Player != object {
			return scheduler.Continue
		}
		q.releaseCounter(ctx, e)
		refunds[e.Owner] += e.Cost
		removed[e.Owner]++
		e.Cost = 0
		e.rec = nil
		total++
		return scheduler.RemoveAndContinue
	})

	var refunded int64
	for o, amount := range refunds {
		q.refund(ctx, o, amount)
		refunded += amount
	}
	if object == Any && owner != Any {
		q.ledgerSet(ctx, owner, 0)
	} else {
		for o, n := range removed {
			q.ledgerAdd(ctx, o, -n)
		}
	}
	if object != Any {
		if err := q.store.SetHalted(ctx, object, true); err != nil {
			q.log.Debug("set halted failed", logx.Ref("object", int64(object)), logx.Err(err))
		}
	}

	if total > 0 || object != Any {
		q.log.Debug("halted", logx.Ref("owner", int64(owner)), logx.Ref("object", int64(object)), logx.Int("removed", total))
		q.publish(eventbus.QueueHalted, eventbus.HaltReport{Owner: int64(owner), Object: int64(object), Removed: total, Refund: refunded})
	}
	return total
}

// Restart clears the halted flag set by Halt or by a quota breach.
func (q *Queue) Restart(ctx context.Context, object DBRef) error {
	if object == storage.Nothing {
		return storage.ErrNotFound
	}
	return q.store.SetHalted(ctx, object, false)
}
