package softcode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mushqueue/internal/storage"
	"mushqueue/internal/task/queue"
	logx "mushqueue/pkg/logx"
)

func (e *Evaluator) think(_ context.Context, ac *queue.ActorContext, args string, _ []string) error {
	ac.Tell(args)
	return nil
}

// @wait <secs>=<cmd>, @wait obj[/attr][/secs]=<cmd>
func (e *Evaluator) wait(ctx context.Context, ac *queue.ActorContext, args string, _ []string) error {
	spec, body, ok := splitEq(args)
	body = stripBraces(body)
	if !ok || spec == "" || body == "" {
		return errBadWait
	}
	ws, err := waitSpec(ctx, ac, spec)
	if err != nil {
		return err
	}
	_, err = ac.Queue.Wait(ctx, ac.Request(body), ws)
	return err
}

// @notify[/all][/quiet] obj[/attr][=count]. A bare obj notifies the
// default semaphore attribute.
func (e *Evaluator) notify(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error {
	left, right, _ := splitEq(args)
	target, attr, err := resolveAttr(ctx, ac, left)
	if err != nil {
		return err
	}
	if attr == 0 {
		attr = storage.AttrSemaphore
	}
	if hasSwitch(switches, "all") {
		ac.Queue.NotifyAll(ctx, target, attr)
	} else {
		count := 1
		if right != "" {
			n, err := strconv.Atoi(right)
			if err != nil || n < 1 {
				return errBadCount
			}
			count = n
		}
		ac.Queue.Notify(ctx, target, attr, count)
	}
	if !hasSwitch(switches, "quiet") {
		ac.Tell("Notified.")
	}
	return nil
}

// @drain obj[/attr]. A bare obj drains every attribute.
func (e *Evaluator) drain(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error {
	target, attr, err := resolveAttr(ctx, ac, args)
	if err != nil {
		return err
	}
	ac.Queue.Drain(ctx, target, attr)
	if !hasSwitch(switches, "quiet") {
		ac.Tell("Drained.")
	}
	return nil
}

// @halt halts everything the actor's owner has queued, @halt obj halts one
// object until @restart, and @halt/all empties the queue.
func (e *Evaluator) halt(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error {
	q := ac.Queue
	switch {
	case hasSwitch(switches, "all"):
		if !e.privileged(ctx, ac) {
			return errPermission
		}
		n := q.Halt(ctx, queue.Any, queue.Any)
		e.log.Info("queue halted", logx.Ref("by", int64(ac.Player)), logx.Int("removed", n))
		ac.Tell("Everything halted.")
	case args == "":
		owner, err := q.Store().Owner(ctx, ac.Player)
		if err != nil {
			return err
		}
		q.Halt(ctx, owner, queue.Any)
		ac.Tell("Halted.")
	default:
		target, err := e.controlled(ctx, ac, args)
		if err != nil {
			return err
		}
		q.Halt(ctx, queue.Any, target)
		ac.Tell("Halted.")
	}
	return nil
}

func (e *Evaluator) restart(ctx context.Context, ac *queue.ActorContext, args string, _ []string) error {
	target, err := e.controlled(ctx, ac, args)
	if err != nil {
		return err
	}
	if err := ac.Queue.Restart(ctx, target); err != nil {
		return err
	}
	ac.Tell("Restarted.")
	return nil
}

// @ps[/brief|/summary|/long][/all] [obj]
func (e *Evaluator) ps(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error {
	q := ac.Queue
	v := queue.Brief
	for _, sw := range switches {
		if pv, ok := queue.ParseVerbosity(sw); ok {
			v = pv
		}
	}
	f := queue.PsFilter{Owner: queue.Any, Object: queue.Any}
	switch {
	case hasSwitch(switches, "all"):
		if !e.privileged(ctx, ac) {
			return errPermission
		}
	case args != "":
		target, err := e.controlled(ctx, ac, args)
		if err != nil {
			return err
		}
		f.Object = target
	default:
		owner, err := q.Store().Owner(ctx, ac.Player)
		if err != nil {
			return err
		}
		f.Owner = owner
	}
	for _, line := range strings.Split(q.Ps(ctx, f).Render(v), "\n") {
		ac.Tell(line)
	}
	return nil
}

// @kick n runs up to n ready entries now.
func (e *Evaluator) kick(ctx context.Context, ac *queue.ActorContext, args string, _ []string) error {
	if !e.privileged(ctx, ac) {
		return errPermission
	}
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 {
		return errBadCount
	}
	ran := ac.Queue.Kick(ctx, n)
	ac.Tell(fmt.Sprintf("%d queue entries processed.", ran))
	return nil
}

// @warp secs advances every timer by secs; a negative value holds them back.
func (e *Evaluator) warp(ctx context.Context, ac *queue.ActorContext, args string, _ []string) error {
	if !e.privileged(ctx, ac) {
		return errPermission
	}
	secs, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return errBadCount
	}
	n := ac.Queue.Warp(-time.Duration(secs) * time.Second)
	switch {
	case secs > 0:
		ac.Tell(fmt.Sprintf("Advancing timers by %d seconds (%d entries).", secs, n))
	case secs < 0:
		ac.Tell(fmt.Sprintf("Delaying timers by %d seconds (%d entries).", -secs, n))
	default:
		ac.Tell("Timers unchanged.")
	}
	return nil
}

// @trigger <cmd> queues cmd for the actor; @trigger/now runs it inline.
func (e *Evaluator) trigger(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error {
	body := stripBraces(args)
	if body == "" {
		return nil
	}
	if hasSwitch(switches, "now") {
		return ac.Queue.RunNow(ctx, ac.Request(body))
	}
	_, err := ac.Queue.Wait(ctx, ac.Request(body), queue.Timed(0))
	return err
}

// @setq n=value
func (e *Evaluator) setq(_ context.Context, ac *queue.ActorContext, args string, _ []string) error {
	left, right, _ := splitEq(args)
	i, err := strconv.Atoi(left)
	if err != nil {
		return userError("Register must be 0-9.")
	}
	if err := ac.SetRegister(i, right); err != nil {
		return userError("Register must be 0-9.")
	}
	return nil
}

func (e *Evaluator) privileged(ctx context.Context, ac *queue.ActorContext) bool {
	st := ac.Queue.Store()
	owner, err := st.Owner(ctx, ac.Player)
	if err != nil {
		return false
	}
	ok, err := st.Privileged(ctx, owner)
	return err == nil && ok
}

// controlled resolves s and checks the actor may manage it: same owner or
// privileged.
func (e *Evaluator) controlled(ctx context.Context, ac *queue.ActorContext, s string) (storage.DBRef, error) {
	target, err := resolve(ctx, ac, s)
	if err != nil {
		return storage.Nothing, err
	}
	st := ac.Queue.Store()
	mine, err := st.Owner(ctx, ac.Player)
	if err != nil {
		return storage.Nothing, err
	}
	theirs, err := st.Owner(ctx, target)
	if err != nil {
		return storage.Nothing, err
	}
	if mine != theirs && !e.privileged(ctx, ac) {
		return storage.Nothing, errPermission
	}
	return target, nil
}
