package queue

import (
	"context"
	"fmt"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	logx "mushqueue/pkg/logx"
)

const (
	msgNoMoney = "Not enough money to queue command."
	msgRunaway = "Run away objects: too many commands queued. Halted."
)

// Enqueue admits a command. On success the owner has paid the deposit and
// the ledger counts the entry; the caller must hand it to WaitTimed or
// WaitOnSemaphore. Store failures are returned as-is.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Entry, error) {
	if req.Player == storage.Nothing {
		return nil, fmt.Errorf("enqueue: %w", storage.ErrNotFound)
	}
	halted, err := q.store.Halted(ctx, req.Player)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	owner, err := q.store.Owner(ctx, req.Player)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if halted {
		return nil, q.deny(req.Player, owner, ErrHalted)
	}

	deposit, err := q.pay(ctx, owner)
	if err != nil {
		return nil, err
	}
	if deposit < 0 {
		q.tell(owner, msgNoMoney)
		return nil, q.deny(req.Player, owner, ErrInsufficientFunds)
	}

	ceiling, err := q.ceiling(ctx, owner)
	if err != nil {
		q.refund(ctx, owner, deposit)
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if q.ledger[owner]+1 > ceiling {
		q.refund(ctx, owner, deposit)
		q.tell(owner, msgRunaway)
		q.Halt(ctx, owner, Any)
		if err := q.store.SetHalted(ctx, req.Player, true); err != nil {
			q.log.Debug("set halted failed", logx.Ref("player", int64(req.Player)), logx.Err(err))
		}
		return nil, q.deny(req.Player, owner, ErrQuotaExceeded)
	}

	q.nextID++
	e := newEntry(q.nextID, owner, req, q.now())
	e.Cost = deposit
	q.ledgerAdd(ctx, owner, 1)
	return e, nil
}

// pay charges the owner for one admission and returns the refundable part.
// A negative deposit means the owner could not pay; nothing was charged.
func (q *Queue) pay(ctx context.Context, owner DBRef) (int64, error) {
	free, err := q.store.FeeExempt(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	if free {
		return 0, nil
	}
	cost := q.cfg.WaitCost
	if q.cfg.MachineCost > 0 && q.intn(q.cfg.MachineCost) == 0 {
		cost++
	}
	ok, err := q.store.AddMoney(ctx, owner, -cost)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	if !ok {
		return -1, nil
	}
	return q.cfg.WaitCost, nil
}

// ceiling is the explicit per-owner override if set, else object count + 1
// for privileged owners, else the configured default.
func (q *Queue) ceiling(ctx context.Context, owner DBRef) (int, error) {
	if n, ok, err := q.store.QueueMax(ctx, owner); err != nil {
		return 0, err
	} else if ok {
		return n, nil
	}
	priv, err := q.store.Privileged(ctx, owner)
	if err != nil {
		return 0, err
	}
	if priv {
		n, err := q.store.ObjectCount(ctx)
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	}
	return q.cfg.QueueMax, nil
}

func (q *Queue) deny(player, owner DBRef, reason error) error {
	q.log.Debug("command refused", logx.Ref("player", int64(player)), logx.Ref("owner", int64(owner)), logx.String("reason", reason.Error()))
	q.publish(eventbus.QueueDenied, eventbus.Denial{Player: int64(player), Owner: int64(owner), Reason: reason.Error()})
	return denied(player, reason)
}
