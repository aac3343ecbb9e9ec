package queue

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

// Config holds the accounting knobs. Zero fields take defaults.
type Config struct {
	// WaitCost is the refundable deposit charged per admitted command.
	WaitCost int64
	// MachineCost makes one admission in MachineCost pay one extra coin.
	// Negative disables the surcharge.
	MachineCost int
	// QueueMax is the default per-owner ceiling for non-privileged owners.
	QueueMax int
	// NestLimit bounds inline execution depth.
	NestLimit int
	// SlowCommand is the wall time above which a command is logged as slow.
	SlowCommand time.Duration
}

const (
	DefaultWaitCost    = 10
	DefaultMachineCost = 64
	DefaultQueueMax    = 100
	DefaultNestLimit   = 50
	DefaultSlowCommand = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.WaitCost <= 0 {
		c.WaitCost = DefaultWaitCost
	}
	if c.MachineCost == 0 {
		c.MachineCost = DefaultMachineCost
	}
	if c.QueueMax <= 0 {
		c.QueueMax = DefaultQueueMax
	}
	if c.NestLimit <= 0 {
		c.NestLimit = DefaultNestLimit
	}
	if c.SlowCommand <= 0 {
		c.SlowCommand = DefaultSlowCommand
	}
	return c
}

// Options wires a Queue to its collaborators. Scheduler and Store are
// required.
type Options struct {
	Config    Config
	Scheduler *scheduler.Scheduler
	Store     storage.Store
	Evaluator Evaluator
	Notifier  Notifier
	Bus       eventbus.Bus
	Log       logx.Logger

	// SystemTick receives ActionSystemTick records with their subtype.
	SystemTick func(ctx context.Context, subtype int)
	// Intn returns a value in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

type Queue struct {
	cfg    Config
	sched  *scheduler.Scheduler
	store  storage.Store
	eval   Evaluator
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	slow   *logx.Limited

	sysTick func(ctx context.Context, subtype int)
	intn    func(n int) int

	ledger map[DBRef]int
	nextID uint64
	depth  int

	// runCtx is the context of the RunTasks call in progress.
	runCtx context.Context
}

func New(opts Options) (*Queue, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("queue: scheduler is required")
	}
	if opts.Store == nil {
		return nil, errors.New("queue: store is required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "queue"))
	q := &Queue{
		cfg:     opts.Config.withDefaults(),
		sched:   opts.Scheduler,
		store:   opts.Store,
		eval:    opts.Evaluator,
		notify:  opts.Notifier,
		bus:     opts.Bus,
		log:     log,
		slow:    logx.NewLimited(log, 5*time.Second, 3),
		sysTick: opts.SystemTick,
		intn:    opts.Intn,
		ledger:  map[DBRef]int{},
		runCtx:  context.Background(),
	}
	if q.intn == nil {
		q.intn = rand.IntN
	}
	if q.eval == nil {
		q.eval = EvaluatorFunc(func(context.Context, *ActorContext, string) error { return nil })
	}
	if q.notify == nil {
		q.notify = NotifierFunc(func(DBRef, string) {})
	}
	q.sched.Bind(scheduler.Handlers{
		RunQueueEntry:    q.runQueueEntry,
		SemaphoreTimeout: q.semaphoreTimeout,
		SystemTick:       q.systemTick,
	})
	return q, nil
}

func (q *Queue) Config() Config { return q.cfg }

// SetConfig swaps the accounting knobs. Entries already admitted keep the
// deposit they paid.
func (q *Queue) SetConfig(c Config) { q.cfg = c.withDefaults() }

func (q *Queue) Scheduler() *scheduler.Scheduler { return q.sched }

func (q *Queue) Store() storage.Store { return q.store }

func (q *Queue) now() time.Time { return q.sched.Clock().Now() }

// Tick promotes records due at now and runs up to max of them.
func (q *Queue) Tick(ctx context.Context, now time.Time, max int) int {
	q.sched.ReadyTasks(now)
	return q.RunTasks(ctx, max)
}

// RunTasks runs up to max ready records with ctx visible to their handlers.
func (q *Queue) RunTasks(ctx context.Context, max int) int {
	prev := q.runCtx
	q.runCtx = ctx
	defer func() { q.runCtx = prev }()
	return q.sched.RunTasks(max)
}

// Counts reports the scheduler's size breakdown.
func (q *Queue) Counts() scheduler.Counts { return q.sched.Counts() }

// Close halts everything still queued, refunding deposits, and tears down
// the scheduler.
func (q *Queue) Close(ctx context.Context) int {
	n := q.Halt(ctx, Any, Any)
	q.sched.Close()
	return n
}

func (q *Queue) tell(obj DBRef, msg string) {
	if obj == storage.Nothing {
		return
	}
	q.notify.Notify(obj, msg)
}

func (q *Queue) publish(typ string, data any) { eventbus.Publish(q.bus, typ, data) }
