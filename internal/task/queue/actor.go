package queue

import (
	"context"
	"fmt"
)

// Evaluator executes command text on behalf of an actor.
type Evaluator interface {
	Execute(ctx context.Context, ac *ActorContext, command string) error
}

type EvaluatorFunc func(ctx context.Context, ac *ActorContext, command string) error

func (f EvaluatorFunc) Execute(ctx context.Context, ac *ActorContext, command string) error {
	return f(ctx, ac, command)
}

// Notifier delivers a line of text to an object.
type Notifier interface {
	Notify(obj DBRef, msg string)
}

type NotifierFunc func(obj DBRef, msg string)

func (f NotifierFunc) Notify(obj DBRef, msg string) { f(obj, msg) }

// ActorContext is what a running command sees: who runs it, who caused it,
// its arguments and scratch registers, and the queue to schedule more work.
type ActorContext struct {
	Queue *Queue

	Player DBRef
	Cause  DBRef
	Caller DBRef

	Args      []string
	Registers []string
}

func (q *Queue) actorFor(e *Entry) *ActorContext {
	regs := make([]string, MaxRegisters)
	copy(regs, e.Registers)
	return &ActorContext{
		Queue:     q,
		Player:    e.Player,
		Cause:     e.Cause,
		Caller:    e.Caller,
		Args:      e.Args,
		Registers: regs,
	}
}

// Arg returns %i, or "" when unset.
func (ac *ActorContext) Arg(i int) string {
	if i < 0 || i >= len(ac.Args) {
		return ""
	}
	return ac.Args[i]
}

// Register returns %qi, or "" when unset.
func (ac *ActorContext) Register(i int) string {
	if i < 0 || i >= len(ac.Registers) {
		return ""
	}
	return ac.Registers[i]
}

func (ac *ActorContext) SetRegister(i int, v string) error {
	if i < 0 || i >= MaxRegisters {
		return fmt.Errorf("register %d out of range", i)
	}
	for len(ac.Registers) < MaxRegisters {
		ac.Registers = append(ac.Registers, "")
	}
	ac.Registers[i] = v
	return nil
}

// Tell sends msg to the executing object.
func (ac *ActorContext) Tell(msg string) { ac.Queue.tell(ac.Player, msg) }

// Request builds an admission request that inherits this context.
func (ac *ActorContext) Request(command string) Request {
	return Request{
		Player:    ac.Player,
		Cause:     ac.Cause,
		Caller:    ac.Player,
		Command:   command,
		Args:      ac.Args,
		Registers: ac.Registers,
	}
}

// Inline runs command immediately in this context, sharing the nesting
// limit with RunNow.
func (ac *ActorContext) Inline(ctx context.Context, command string) error {
	q := ac.Queue
	if q.depth >= q.cfg.NestLimit {
		return fmt.Errorf("%w (%d)", ErrNestLimit, q.cfg.NestLimit)
	}
	q.depth++
	defer func() { q.depth-- }()
	return q.eval.Execute(ctx, ac, command)
}
