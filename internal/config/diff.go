package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mushqueue/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and structured attrs
// describing their new values, for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		q := newCfg.Queue
		var waitCost int64
		if q.WaitCost != nil {
			waitCost = *q.WaitCost
		}
		attrs = append(attrs,
			logx.Int64("queue.wait_cost", waitCost),
			logx.Int("queue.machine_cost", q.MachineCost),
			logx.Int("queue.queue_max", q.QueueMax),
			logx.Int("queue.nest_limit", q.NestLimit),
			logx.String("queue.slow_command", strings.TrimSpace(q.SlowCommand)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		e := newCfg.Engine
		attrs = append(attrs,
			logx.Bool("engine.enabled", e.Enabled == nil || *e.Enabled),
			logx.String("engine.tick_interval", strings.TrimSpace(e.TickInterval)),
			logx.Int("engine.batch_size", e.BatchSize),
			logx.Bool("engine.dequeue_paused", e.DequeuePaused),
			logx.String("engine.ticks.heartbeat", e.Ticks.Heartbeat),
			logx.String("engine.ticks.ledger_audit", e.Ticks.LedgerAudit),
			logx.String("engine.ticks.checkpoint", e.Ticks.Checkpoint),
		)
	}

	// nil means the in-memory store.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
		attrs = append(attrs,
			logx.Bool("console.enabled", newCfg.Console.Enabled),
			logx.String("console.default_player", newCfg.Console.DefaultPlayer),
		)
	}

	// nil means runtime defaults.
	defN := NotifierConfig{Enabled: true}
	oN, nN := defN, defN
	if oldCfg.Notifier != nil {
		oN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nN = *newCfg.Notifier
	}
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Objects, newCfg.Objects) {
		changed = append(changed, "objects")
		attrs = append(attrs, logx.Int("objects.count", len(newCfg.Objects)))
	}

	sort.Strings(changed)
	return changed, attrs
}
