package queue

import (
	"context"

	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// The ledger counts live entries per owner. It starts empty each run and is
// written through to the store's queue count so other readers can see it.

// Ledger returns the number of live entries owned by owner.
func (q *Queue) Ledger(owner DBRef) int { return q.ledger[owner] }

func (q *Queue) ledgerAdd(ctx context.Context, owner DBRef, delta int) {
	q.ledgerSet(ctx, owner, q.ledger[owner]+delta)
}

func (q *Queue) ledgerSet(ctx context.Context, owner DBRef, n int) {
	if n < 0 {
		q.log.Warn("queue ledger went negative; clamped", logx.Ref("owner", int64(owner)), logx.Int("n", n))
		n = 0
	}
	if n == 0 {
		delete(q.ledger, owner)
	} else {
		q.ledger[owner] = n
	}
	if err := q.store.SetQueueCount(ctx, owner, n); err != nil {
		q.log.Debug("queue count write failed", logx.Ref("owner", int64(owner)), logx.Err(err))
	}
}

// Resync recomputes every owner's ledger from the live records and returns
// how many owners were corrected.
func (q *Queue) Resync(ctx context.Context) int {
	live := map[DBRef]int{}
	q.sched.TraverseUnordered(func(r *scheduler.Record) scheduler.Visit {
		if e, ok := r.Payload.(*Entry); ok {
			live[e.Owner]++
		}
		return scheduler.Continue
	})
	fixed := 0
	for owner, n := range q.ledger {
		if live[owner] != n {
			q.log.Warn("queue ledger drift", logx.Ref("owner", int64(owner)), logx.Int("ledger", n), logx.Int("live", live[owner]))
			q.ledgerSet(ctx, owner, live[owner])
			fixed++
		}
	}
	for owner, n := range live {
		if _, ok := q.ledger[owner]; !ok {
			q.log.Warn("queue ledger drift", logx.Ref("owner", int64(owner)), logx.Int("ledger", 0), logx.Int("live", n))
			q.ledgerSet(ctx, owner, n)
			fixed++
		}
	}
	return fixed
}

// refund returns an entry's deposit to its owner.
func (q *Queue) refund(ctx context.Context, owner DBRef, amount int64) {
	if amount <= 0 {
		return
	}
	if _, err := q.store.AddMoney(ctx, owner, amount); err != nil {
		q.log.Debug("refund failed", logx.Ref("owner", int64(owner)), logx.Int64("amount", amount), logx.Err(err))
	}
}

// retire undoes admission for an entry that left the scheduler.
func (q *Queue) retire(ctx context.Context, e *Entry) {
	q.refund(ctx, e.Owner, e.Cost)
	e.Cost = 0
	q.ledgerAdd(ctx, e.Owner, -1)
	e.rec = nil
}
