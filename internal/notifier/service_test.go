package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mushqueue/internal/storage"
	kit "mushqueue/internal/transport"
	logx "mushqueue/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	fails int
	sent  []string
	got   chan struct{}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) Done() <-chan struct{}                          { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to storage.DBRef, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fails > 0 {
		a.fails--
		return errors.New("transient")
	}
	a.sent = append(a.sent, to.String()+" "+text)
	a.got <- struct{}{}
	return nil
}

func (a *fakeAdapter) lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func TestDeliversInOrderWithRetry(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 1, got: make(chan struct{}, 8)}
	s := New(Config{Enabled: true, RetryMax: 2, RetryBase: time.Millisecond}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Notify(2, "one")
	s.Notify(2, "two")
	s.Notify(5, "three")
	for i := 0; i < 3; i++ {
		select {
		case <-ad.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d lines", i)
		}
	}
	got := ad.lines()
	want := []string{"#2 one", "#2 two", "#5 three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if h := s.Snapshot(); len(h) != 3 || h[0].To != 2 {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendStates(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{got: make(chan struct{}, 8)}
	off := New(Config{}, ad, logx.Nop(), nil)
	if err := off.Send(1, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	off.Notify(1, "x")
	if off.Dropped() != 0 {
		t.Fatalf("disabled notifier counted a drop")
	}

	idle := New(Config{Enabled: true}, ad, logx.Nop(), nil)
	if err := idle.Send(1, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted err = %v", err)
	}
	idle.Notify(1, "x")
	if idle.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", idle.Dropped())
	}
}

func TestRetryDelayIsBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 10 * time.Millisecond, RetryMaxDelay: 40 * time.Millisecond}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d delay %v out of range", attempt, d)
		}
	}
}
