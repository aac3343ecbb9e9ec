package console

import (
	"context"
	"errors"

	"mushqueue/internal/task/queue"
	kit "mushqueue/internal/transport"
	logx "mushqueue/pkg/logx"
)

// Submitter runs fn on the goroutine that owns the queue.
type Submitter interface {
	Do(ctx context.Context, fn func(q *queue.Queue)) error
}

// Router executes player input. Input runs at once, the way a connected
// player's commands do; anything it schedules goes through the queue.
type Router struct {
	eng Submitter
	log logx.Logger
}

func NewRouter(eng Submitter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{eng: eng, log: log.With(logx.String("comp", "router"))}
}

// Run consumes updates until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, u)
		}
	}
}

// Handle runs one update and waits for it.
func (r *Router) Handle(ctx context.Context, u kit.Update) {
	var runErr error
	err := r.eng.Do(ctx, func(q *queue.Queue) {
		runErr = q.RunNow(ctx, queue.Request{Player: u.Player, Cause: u.Player, Caller: u.Player, Command: u.Text})
	})
	if err != nil {
		r.log.Warn("input not run", logx.Ref("player", int64(u.Player)), logx.Err(err))
		return
	}
	if runErr != nil && !errors.Is(runErr, queue.ErrAdmissionDenied) {
		r.log.Debug("input failed", logx.Ref("player", int64(u.Player)), logx.String("cmd", u.Text), logx.Err(runErr))
	}
}
