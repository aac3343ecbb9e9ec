package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

func (q *Queue) runQueueEntry(r *scheduler.Record) {
	e, ok := r.Payload.(*Entry)
	if !ok {
		q.log.Warn("run record without entry; dropped", logx.Any("payload", r.Payload))
		return
	}
	ctx := q.runCtx
	q.retire(ctx, e)

	halted, err := q.store.Halted(ctx, e.Player)
	if err != nil {
		q.log.Debug("executor vanished; entry dropped", logx.Ref("player", int64(e.Player)), logx.Err(err))
		return
	}
	if halted {
		return
	}
	q.execute(ctx, q.actorFor(e), e.Command)
}

// semaphoreTimeout fires when a timed semaphore wait was not notified in
// time. It gives back the count the wait held, then runs the entry.
func (q *Queue) semaphoreTimeout(r *scheduler.Record) {
	e, ok := r.Payload.(*Entry)
	if !ok {
		q.log.Warn("semaphore record without entry; dropped", logx.Any("payload", r.Payload))
		return
	}
	q.releaseCounter(q.runCtx, e)
	q.runQueueEntry(r)
}

func (q *Queue) systemTick(r *scheduler.Record) {
	if q.sysTick == nil {
		return
	}
	q.sysTick(q.runCtx, r.Aux)
}

// RunNow executes req inline without queueing it. Only the halted check of
// admission applies; nesting shares the limit with ActorContext.Inline.
func (q *Queue) RunNow(ctx context.Context, req Request) error {
	halted, err := q.store.Halted(ctx, req.Player)
	if err != nil {
		return fmt.Errorf("run now: %w", err)
	}
	if halted {
		return denied(req.Player, ErrHalted)
	}
	if q.depth >= q.cfg.NestLimit {
		return fmt.Errorf("%w (%d)", ErrNestLimit, q.cfg.NestLimit)
	}
	e := newEntry(0, storage.Nothing, req, q.now())
	return q.execute(ctx, q.actorFor(e), e.Command)
}

// execute runs one command through the evaluator, recovering panics, and
// charges the CPU it used to the executor.
func (q *Queue) execute(ctx context.Context, ac *ActorContext, command string) (err error) {
	q.depth++
	clock := q.sched.Clock()
	wallStart := clock.Now()
	cpuStart := processCPU()

	defer func() {
		q.depth--
		if p := recover(); p != nil {
			err = fmt.Errorf("evaluator panic: %v", p)
			q.log.Error("command panicked", logx.Ref("player", int64(ac.Player)), logx.String("cmd", command), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			q.publish(eventbus.QueuePanic, eventbus.SlowCommand{Player: int64(ac.Player), Command: command, Err: err.Error()})
		}
		q.account(ctx, ac.Player, command, clock.Now().Sub(wallStart), processCPU()-cpuStart)
	}()

	err = q.eval.Execute(ctx, ac, command)
	if err != nil {
		q.log.Debug("command failed", logx.Ref("player", int64(ac.Player)), logx.String("cmd", command), logx.Err(err))
	}
	return err
}

func (q *Queue) account(ctx context.Context, player DBRef, command string, wall, cpu time.Duration) {
	used := cpu
	if used <= 0 {
		used = wall
	}
	if err := q.store.AddCPU(ctx, player, used); err != nil {
		q.log.Debug("cpu charge failed", logx.Ref("player", int64(player)), logx.Err(err))
	}
	if wall <= q.cfg.SlowCommand {
		return
	}
	q.slow.Warn("slow command",
		logx.Ref("player", int64(player)),
		logx.String("cmd", command),
		logx.Duration("wall", wall),
		logx.Duration("cpu", cpu),
	)
	q.publish(eventbus.QueueSlow, eventbus.SlowCommand{
		Player:  int64(player),
		Command: command,
		WallMS:  wall.Milliseconds(),
		CPUMS:   cpu.Milliseconds(),
	})
}
