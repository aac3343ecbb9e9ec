package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mushqueue/internal/config"
	"mushqueue/internal/eventbus"
	"mushqueue/internal/notifier"
	rtsup "mushqueue/internal/runtime/supervisor"
	"mushqueue/internal/softcode"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/engine"
	"mushqueue/internal/task/queue"
	"mushqueue/internal/task/scheduler"
	kit "mushqueue/internal/transport"
	"mushqueue/internal/transport/console"
	logx "mushqueue/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *console.Adapter
	input   bool

	engine *engine.Service
	notif  *notifier.Service
	router *console.Router

	updates chan kit.Update
}

// NewApp loads the config at cfgPath and wires the queue to stdin/stdout.
func NewApp(cfgPath string) (*App, error) {
	return newApp(config.NewConfigManager(cfgPath), os.Stdin, os.Stdout)
}

func newApp(cfgm *config.ConfigManager, in io.Reader, out io.Writer) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	n, err := seedObjects(context.Background(), store, cfg.Objects)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver), logx.Int("seeded", n))

	qcfg, _ := mapQueueConfig(cfg)
	ecfg, _ := mapEngineConfig(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	player, _ := mapDefaultPlayer(cfg)

	ad := console.New(console.Config{DefaultPlayer: player}, in, out, log)
	notif := notifier.New(ncfg, ad, log, bus)

	eng, err := engine.New(ecfg, queue.Options{
		Config:    qcfg,
		Scheduler: scheduler.New(scheduler.SystemClock, log),
		Store:     store,
		Evaluator: softcode.New(log),
		Notifier:  notif,
	}, log, bus)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		input:   cfg.Console.Enabled,
		engine:  eng,
		notif:   notif,
		router:  console.NewRouter(eng, log),
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Engine() *engine.Service { return a.engine }

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// InputDone is closed when console input reaches EOF. It is nil when the
// console is disabled.
func (a *App) InputDone() <-chan struct{} {
	if !a.input {
		return nil
	}
	return a.adapter.Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.notif.Start(a.sup.Context())
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.input {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("console.router", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Bool("console", a.input))
	return nil
}

// applyConfig pushes a committed config into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))

	for _, s := range sections {
		switch s {
		case "storage", "console", "objects":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if qcfg, err := mapQueueConfig(next); err != nil {
		a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
	} else if err := a.engine.Do(ctx, func(q *queue.Queue) { q.SetConfig(qcfg) }); err != nil {
		a.log.Warn("queue config not applied", logx.Err(err))
	}

	if ecfg, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else if err := a.engine.Apply(ctx, ecfg); err != nil {
		a.log.Warn("engine config not applied", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("engine", 3*time.Second, func(c context.Context) error {
		if n := a.engine.Shutdown(c); n > 0 {
			a.log.Info("queue flushed", logx.Int("refunded", n))
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 2*time.Second, func(c context.Context) error {
		if err := a.store.Checkpoint(c); err != nil {
			a.log.Warn("final checkpoint failed", logx.Err(err))
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// OpenStore opens the store named by the config at cfgPath and seeds it,
// without starting anything. It backs read-only inspection commands.
func OpenStore(ctx context.Context, cfgPath string) (storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	sc, _ := mapStorageConfig(cfg)
	st, err := storage.Open(sc, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	if _, err := seedObjects(ctx, st, cfg.Objects); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
