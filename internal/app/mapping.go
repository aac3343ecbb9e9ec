package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mushqueue/internal/config"
	"mushqueue/internal/notifier"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/engine"
	"mushqueue/internal/task/queue"
	logx "mushqueue/pkg/logx"

	"github.com/robfig/cron/v3"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns a memory store config when the section is
// omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if sc.CompactEvery < 0 {
		return storage.Config{}, errors.New("storage.compact_every must be >= 0")
	}

	switch driver {
	case "", "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	qc := cfg.Queue
	var waitCost int64
	if qc.WaitCost != nil {
		if *qc.WaitCost < 1 {
			return queue.Config{}, errors.New("queue.wait_cost must be >= 1 (omit it for the default)")
		}
		waitCost = *qc.WaitCost
	}
	if qc.QueueMax < 0 {
		return queue.Config{}, errors.New("queue.queue_max must be >= 0")
	}
	if qc.NestLimit < 0 {
		return queue.Config{}, errors.New("queue.nest_limit must be >= 0")
	}
	slow, err := config.ParseDurationField("queue.slow_command", qc.SlowCommand)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		WaitCost:    waitCost,
		MachineCost: qc.MachineCost,
		QueueMax:    qc.QueueMax,
		NestLimit:   qc.NestLimit,
		SlowCommand: slow,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	enabled := true
	if ec.Enabled != nil {
		enabled = *ec.Enabled
	}
	if ec.BatchSize < 0 {
		return engine.Config{}, errors.New("engine.batch_size must be >= 0")
	}
	if ec.InboxSize < 0 {
		return engine.Config{}, errors.New("engine.inbox_size must be >= 0")
	}
	interval, err := config.ParseDurationField("engine.tick_interval", ec.TickInterval)
	if err != nil {
		return engine.Config{}, err
	}
	ticks := engine.TickSpecs{
		Heartbeat:   strings.TrimSpace(ec.Ticks.Heartbeat),
		LedgerAudit: strings.TrimSpace(ec.Ticks.LedgerAudit),
		Checkpoint:  strings.TrimSpace(ec.Ticks.Checkpoint),
	}
	for key, spec := range map[string]string{
		"engine.ticks.heartbeat":    ticks.Heartbeat,
		"engine.ticks.ledger_audit": ticks.LedgerAudit,
		"engine.ticks.checkpoint":   ticks.Checkpoint,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return engine.Config{}, fmt.Errorf("%s: invalid cron spec %q: %w", key, spec, err)
		}
	}
	return engine.Config{
		Enabled:       enabled,
		TickInterval:  interval,
		BatchSize:     ec.BatchSize,
		InboxSize:     ec.InboxSize,
		DequeuePaused: ec.DequeuePaused,
		Ticks:         ticks,
	}, nil
}

// mapNotifierConfig enables the notifier with defaults when the section is
// omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	nc := cfg.Notifier
	if nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.HistorySize < 0 {
		return notifier.Config{}, errors.New("notifier: sizes and counts must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		HistorySize:   nc.HistorySize,
	}, nil
}

func mapDefaultPlayer(cfg *config.Config) (storage.DBRef, error) {
	s := strings.TrimSpace(cfg.Console.DefaultPlayer)
	if s == "" {
		return storage.Nothing, nil
	}
	ref, err := storage.ParseDBRef(s)
	if err != nil {
		return storage.Nothing, fmt.Errorf("console.default_player: %w", err)
	}
	return ref, nil
}

func mapObjectSeed(s config.ObjectSeed) (storage.Object, error) {
	ref, err := storage.ParseDBRef(strings.TrimSpace(s.Ref))
	if err != nil {
		return storage.Object{}, fmt.Errorf("objects: %w", err)
	}
	owner := ref
	if o := strings.TrimSpace(s.Owner); o != "" {
		if owner, err = storage.ParseDBRef(o); err != nil {
			return storage.Object{}, fmt.Errorf("objects %s owner: %w", ref, err)
		}
	}
	if s.Money < 0 {
		return storage.Object{}, fmt.Errorf("objects %s: money must be >= 0", ref)
	}
	var qmax *int
	if s.QueueMax != nil {
		v := *s.QueueMax
		qmax = &v
	}
	return storage.Object{
		Ref:        ref,
		Name:       s.Name,
		Owner:      owner,
		Player:     s.Player,
		Privileged: s.Privileged,
		FeeExempt:  s.FeeExempt,
		Money:      s.Money,
		QueueMax:   qmax,
	}, nil
}

// seedObjects creates configured objects the store does not hold yet and
// returns how many it created.
func seedObjects(ctx context.Context, st storage.Store, seeds []config.ObjectSeed) (int, error) {
	n := 0
	for _, s := range seeds {
		o, err := mapObjectSeed(s)
		if err != nil {
			return n, err
		}
		_, err = st.Get(ctx, o.Ref)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, storage.ErrNotFound):
			return n, err
		}
		if err := st.Put(ctx, o); err != nil {
			return n, fmt.Errorf("seed %s: %w", o.Ref, err)
		}
		n++
	}
	return n, nil
}

// validateConfig rejects a config before it is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapQueueConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDefaultPlayer(cfg); err != nil {
		return err
	}
	seen := map[storage.DBRef]bool{}
	for _, s := range cfg.Objects {
		o, err := mapObjectSeed(s)
		if err != nil {
			return err
		}
		if seen[o.Ref] {
			return fmt.Errorf("objects: duplicate ref %s", o.Ref)
		}
		seen[o.Ref] = true
	}
	return nil
}
