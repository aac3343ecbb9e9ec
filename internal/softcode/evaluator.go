package softcode

import (
	"context"
	"errors"
	"strings"

	"mushqueue/internal/task/queue"
	logx "mushqueue/pkg/logx"
)

const msgHuh = `Huh?  (Type "help" for help.)`

type handler func(ctx context.Context, ac *queue.ActorContext, args string, switches []string) error

// Evaluator implements queue.Evaluator.
type Evaluator struct {
	log      logx.Logger
	commands map[string]handler
}

var _ queue.Evaluator = (*Evaluator)(nil)

func New(log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Evaluator{log: log.With(logx.String("comp", "softcode"))}
	e.commands = map[string]handler{
		"think":    e.think,
		"@wait":    e.wait,
		"@notify":  e.notify,
		"@drain":   e.drain,
		"@halt":    e.halt,
		"@restart": e.restart,
		"@ps":      e.ps,
		"@kick":    e.kick,
		"@warp":    e.warp,
		"@trigger": e.trigger,
		"@setq":    e.setq,
	}
	return e
}

// Execute runs every command on the line in order. The first queue error
// stops the line; messages meant for the actor are told and do not.
func (e *Evaluator) Execute(ctx context.Context, ac *queue.ActorContext, command string) error {
	for _, part := range splitCommands(command) {
		line := strings.TrimSpace(substitute(ac, part))
		if line == "" {
			continue
		}
		if err := e.dispatch(ctx, ac, line); err != nil {
			var ue userError
			if errors.As(err, &ue) {
				ac.Tell(ue.Error())
				continue
			}
			return err
		}
	}
	return nil
}

func (e *Evaluator) dispatch(ctx context.Context, ac *queue.ActorContext, line string) error {
	name, switches, args := splitCommand(line)
	h, ok := e.commands[name]
	if !ok && len(name) > 1 && name[0] == '@' {
		h, ok = e.prefix(name)
	}
	if !ok {
		ac.Tell(msgHuh)
		return nil
	}
	return h(ctx, ac, args, switches)
}

// prefix resolves an unambiguous abbreviation such as @tr for @trigger.
func (e *Evaluator) prefix(name string) (handler, bool) {
	var found handler
	n := 0
	for full, h := range e.commands {
		if strings.HasPrefix(full, name) {
			found = h
			n++
		}
	}
	return found, n == 1
}
