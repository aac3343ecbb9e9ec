package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const sampleYAML = `
logging:
  level: debug
  console: true
queue:
  wait_cost: 5
  machine_cost: -1
  slow_command: "2"
engine:
  tick_interval: 20ms
  ticks:
    heartbeat: "@every 1m"
storage:
  driver: file
  path: ./data/world
console:
  enabled: true
  default_player: "#1"
objects:
  - ref: "#1"
    name: Wizard
    player: true
    privileged: true
  - ref: "#5"
    name: Gadget
    owner: "#1"
    queue_max: 3
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("mushqueue.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.WaitCost == nil || *cfg.Queue.WaitCost != 5 || cfg.Queue.MachineCost != -1 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Engine.Ticks.Heartbeat != "@every 1m" || cfg.Engine.Enabled != nil {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Objects) != 2 || cfg.Objects[1].QueueMax == nil || *cfg.Objects[1].QueueMax != 3 {
		t.Fatalf("objects = %+v", cfg.Objects)
	}

	js, err := Decode("mushqueue.json", []byte(`{"queue":{"queue_max":7},"console":{"enabled":false}}`))
	if err != nil {
		t.Fatal(err)
	}
	if js.Queue.QueueMax != 7 {
		t.Fatalf("json queue = %+v", js.Queue)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, path, body string
	}{
		{"unknown yaml key", "c.yaml", "queue:\n  wait_costs: 3\n"},
		{"unknown json key", "c.json", `{"network":{}}`},
		{"trailing json", "c.json", `{} {}`},
		{"bad yaml", "c.yml", "queue: [unclosed"},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"250ms", 250 * time.Millisecond, true},
		{"3", 3 * time.Second, true},
		{"1.5", 1500 * time.Millisecond, true},
		{"-1s", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v", tc.in, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default not applied: %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a, _ := Decode("a.yaml", []byte(sampleYAML))
	b, _ := Decode("b.yaml", []byte(sampleYAML))
	if sections, _ := SummarizeConfigChange(a, b); len(sections) != 0 {
		t.Fatalf("identical configs changed %v", sections)
	}
	b.Queue.QueueMax = 10
	b.Engine.DequeuePaused = true
	b.Notifier = &NotifierConfig{Enabled: false}
	sections, attrs := SummarizeConfigChange(a, b)
	if got := strings.Join(sections, ","); got != "engine,notifier,queue" {
		t.Fatalf("sections = %s", got)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	const path = "/etc/mushqueue.yaml"
	if err := afero.WriteFile(fs, path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManagerFs(fs, path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("unchanged reload = %v, %v", changed, err)
	}

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Queue.QueueMax < 0 {
			return errors.New("queue.queue_max must be >= 0")
		}
		return nil
	})
	bad := strings.Replace(sampleYAML, "wait_cost: 5", "wait_cost: 5\n  queue_max: -2", 1)
	_ = afero.WriteFile(fs, path, []byte(bad), 0o644)
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("validator did not reject")
	}
	if m.Get().Queue.QueueMax != 0 {
		t.Fatalf("rejected config was committed")
	}

	good := strings.Replace(sampleYAML, "wait_cost: 5", "wait_cost: 9", 1)
	_ = afero.WriteFile(fs, path, []byte(good), 0o644)
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("reload = %v, %v", changed, err)
	}
	select {
	case c := <-sub:
		if c.Queue.WaitCost == nil || *c.Queue.WaitCost != 9 {
			t.Fatalf("published wait_cost %v", c.Queue.WaitCost)
		}
	default:
		t.Fatalf("nothing published")
	}
}
