package engine

import (
	"context"
	"fmt"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/task/queue"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// fireTick runs on a cron goroutine. It only files a system record; the
// work itself happens when RunTasks reaches it, ahead of player work.
func (s *Service) fireTick(sub int) {
	err := s.Submit(func(q *queue.Queue) {
		if _, err := q.Scheduler().DeferImmediateTask(scheduler.PrioritySystem, scheduler.ActionSystemTick, nil, sub); err != nil {
			s.log.Debug("system tick not filed", logx.String("tick", tickName(sub)), logx.Err(err))
		}
	})
	if err != nil {
		s.log.Debug("system tick not submitted", logx.String("tick", tickName(sub)), logx.Err(err))
	}
}

// systemTick is the queue's handler for ActionSystemTick records.
func (s *Service) systemTick(ctx context.Context, sub int) {
	q := s.q
	switch sub {
	case TickHeartbeat:
		c := q.Counts()
		s.log.Info("queue heartbeat",
			logx.Int("ready", c.Ready),
			logx.Int("waiting", c.Waiting),
			logx.Int("suspended", c.Suspended),
			logx.Uint64("ran", s.ran.Load()),
		)
	case TickLedgerAudit:
		if n := q.Resync(ctx); n > 0 {
			s.log.Warn("queue ledgers corrected", logx.Int("owners", n))
		}
	case TickCheckpoint:
		if err := q.Store().Checkpoint(ctx); err != nil {
			s.log.Warn("store checkpoint failed", logx.Err(err))
		}
	default:
		s.log.Warn("unknown system tick", logx.Int("sub", sub))
		return
	}
	eventbus.Publish(s.bus, eventbus.EngineTick, tickName(sub))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
