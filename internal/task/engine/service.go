package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mushqueue/internal/eventbus"
	rtsup "mushqueue/internal/runtime/supervisor"
	"mushqueue/internal/task/queue"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Service owns a Queue and drives it from a single goroutine. Every other
// goroutine reaches the queue through Do or Submit.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q *queue.Queue

	inbox    chan job
	sup      *rtsup.Supervisor
	cron     *cron.Cron
	stopCh   chan struct{}
	stopDone chan struct{}

	ticks   atomic.Uint64
	ran     atomic.Uint64
	dropped atomic.Uint64
	counts  atomic.Value // scheduler.Counts
	dequeue atomic.Bool

	fullWarn *logx.Limited
}

// job is one inbox item. done, when set, is buffered and receives nil once
// fn has run or ErrStopped if the loop exited first.
type job struct {
	fn   func(q *queue.Queue)
	done chan error
}

// New builds the queue from qopts and wraps it in a driver. qopts.Bus and
// qopts.Log default to the driver's.
func New(cfg Config, qopts queue.Options, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "engine"))
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		fullWarn: logx.NewLimited(log, 5*time.Second, 1),
	}
	if qopts.Bus == nil {
		qopts.Bus = bus
	}
	if qopts.Log.IsZero() {
		qopts.Log = log
	}
	qopts.SystemTick = s.systemTick
	q, err := queue.New(qopts)
	if err != nil {
		return nil, err
	}
	s.q = q
	q.SetDequeueEnabled(!s.cfg.DequeuePaused)
	s.dequeue.Store(!s.cfg.DequeuePaused)
	s.counts.Store(q.Counts())
	return s, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start launches the tick loop and the system-tick cron. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	if !cfg.Enabled {
		return nil
	}
	if s.stopCh != nil {
		return nil
	}

	c := cron.New(cron.WithLogger(cronLogger{log: s.log}), cron.WithChain(cron.Recover(cronLogger{log: s.log})))
	for _, spec := range []struct {
		expr string
		sub  int
	}{
		{cfg.Ticks.Heartbeat, TickHeartbeat},
		{cfg.Ticks.LedgerAudit, TickLedgerAudit},
		{cfg.Ticks.Checkpoint, TickCheckpoint},
	} {
		if spec.expr == "" {
			continue
		}
		sub := spec.sub
		if _, err := c.AddFunc(spec.expr, func() { s.fireTick(sub) }); err != nil {
			return err
		}
	}

	s.inbox = make(chan job, cfg.InboxSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.cron = c
	inbox, stopCh, sup := s.inbox, s.stopCh, s.sup

	sup.GoRestart("tick", func(c context.Context) error {
		err := s.loop(c, stopCh, inbox, cfg.TickInterval, cfg.BatchSize)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		return err
	}, rtsup.WithPublishFirstError(true))
	c.Start()

	s.log.Info("queue engine started",
		logx.Duration("tick", cfg.TickInterval),
		logx.Int("batch", cfg.BatchSize),
		logx.Int("inbox", cfg.InboxSize),
		logx.Bool("dequeue", s.dequeue.Load()),
	)
	eventbus.Publish(s.bus, eventbus.EngineStarted, nil)
	return nil
}

// loop is the only goroutine that touches the queue while running.
func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}, inbox <-chan job, interval time.Duration, batch int) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	clock := s.q.Scheduler().Clock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case j := <-inbox:
			s.runJob(j)
		case <-t.C:
			n := s.q.Tick(ctx, clock.Now(), batch)
			s.ticks.Add(1)
			s.ran.Add(uint64(n))
			s.counts.Store(s.q.Counts())
		}
	}
}

func (s *Service) runJob(j job) {
	defer func() {
		if j.done != nil {
			j.done <- nil
		}
	}()
	j.fn(s.q)
	s.dequeue.Store(s.q.DequeueEnabled())
	s.counts.Store(s.q.Counts())
}

// Stop halts the loop and the cron. Queued work stays in the queue.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, c := s.sup, s.cron
	s.mu.Unlock()

	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		if sup != nil {
			_ = sup.Stop(context.Background())
		}
		s.mu.Lock()
		inbox := s.inbox
		s.inbox = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.cron = nil
		s.mu.Unlock()
		failPending(inbox)
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("queue engine stopped")
		eventbus.Publish(s.bus, eventbus.EngineStopped, nil)
	case <-ctx.Done():
		s.log.Warn("queue engine stop timed out", logx.Err(ctx.Err()))
	}
}

// failPending releases Do callers whose jobs were still queued when the
// loop exited. send refuses new jobs once stopping, so nothing arrives after
// the drain.
func failPending(inbox chan job) {
	for {
		select {
		case j := <-inbox:
			if j.done != nil {
				j.done <- ErrStopped
			}
		default:
			return
		}
	}
}

// Shutdown stops the driver, then halts and refunds everything still
// queued.
func (s *Service) Shutdown(ctx context.Context) int {
	s.Stop(ctx)
	s.mu.Lock()
	running := s.stopCh != nil
	s.mu.Unlock()
	if running {
		return 0
	}
	n := s.q.Close(ctx)
	if n > 0 {
		s.log.Info("queued commands discarded at shutdown", logx.Int("n", n))
	}
	return n
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (s *Service) Do(ctx context.Context, fn func(q *queue.Queue)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{fn: fn, done: make(chan error, 1)}
	if err := s.send(j); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn for the loop goroutine without waiting.
func (s *Service) Submit(fn func(q *queue.Queue)) error {
	return s.send(job{fn: fn})
}

func (s *Service) send(j job) error {
	if j.fn == nil {
		return errors.New("engine: nil job")
	}
	// The send happens under mu so Stop's drain sees every accepted job.
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox := s.inbox

	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if inbox == nil {
		return ErrStopped
	}
	if s.stopDone != nil {
		return ErrStopping
	}
	select {
	case inbox <- j:
		return nil
	default:
		s.dropped.Add(1)
		s.fullWarn.Warn("engine inbox full; job dropped", logx.Int("inbox_cap", cap(inbox)), logx.Uint64("dropped", s.dropped.Load()))
		return ErrQueueFull
	}
}

// Apply swaps the driver config. Loop settings take effect by restarting
// the loop; queued work is kept.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	if prev.DequeuePaused != cfg.DequeuePaused {
		enable := !cfg.DequeuePaused
		if running {
			if err := s.Do(ctx, func(q *queue.Queue) { q.SetDequeueEnabled(enable) }); err != nil {
				return err
			}
		} else {
			s.q.SetDequeueEnabled(enable)
			s.dequeue.Store(enable)
		}
	}

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && (prev.TickInterval != cfg.TickInterval || prev.BatchSize != cfg.BatchSize ||
		prev.InboxSize != cfg.InboxSize || prev.Ticks != cfg.Ticks):
		s.Stop(ctx)
		return s.Start(ctx)
	case !running && cfg.Enabled:
		return s.Start(ctx)
	}
	return nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	cfg := s.cfg
	inbox := s.inbox
	sup := s.sup
	s.mu.Unlock()
	st := Status{
		Enabled:        cfg.Enabled,
		Running:        inbox != nil,
		DequeueEnabled: s.dequeue.Load(),
		Ticks:          s.ticks.Load(),
		Ran:            s.ran.Load(),
		Dropped:        s.dropped.Load(),
		Restarts:       sup.Counters().Restarts,
	}
	if c, ok := s.counts.Load().(scheduler.Counts); ok {
		st.Counts = c
	}
	if inbox != nil {
		st.InboxLen, st.InboxCap = len(inbox), cap(inbox)
	}
	return st
}
