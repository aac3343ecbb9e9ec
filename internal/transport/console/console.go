// Package console is a line-oriented transport over an io.Reader and
// io.Writer, normally stdin and stdout.
//
// Input lines are "#<ref> <command>", or just "<command>" for the default
// player. Output lines are "#<ref> <text>".
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"mushqueue/internal/storage"
	kit "mushqueue/internal/transport"
	logx "mushqueue/pkg/logx"
)

type Config struct {
	DefaultPlayer storage.DBRef
}

type Adapter struct {
	cfg Config
	in  io.Reader
	log logx.Logger

	wmu sync.Mutex
	out io.Writer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:  cfg,
		in:   in,
		out:  out,
		log:  log.With(logx.String("comp", "console")),
		done: make(chan struct{}),
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("console: already started")
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	go a.readLoop(ctx, out)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, out chan<- kit.Update) {
	defer close(a.done)
	sc := bufio.NewScanner(a.in)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		u, ok := a.parse(sc.Text())
		if !ok {
			continue
		}
		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		a.log.Warn("console read failed", logx.Err(err))
	}
}

// parse reads "#<ref> <command>". A leading token that is not a ref is part
// of the command.
func (a *Adapter) parse(line string) (kit.Update, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return kit.Update{}, false
	}
	player := a.cfg.DefaultPlayer
	if line[0] == '#' {
		head, rest, _ := strings.Cut(line, " ")
		if ref, err := storage.ParseDBRef(head); err == nil {
			player = ref
			line = strings.TrimSpace(rest)
		}
	}
	if line == "" || player == storage.Nothing {
		return kit.Update{}, false
	}
	return kit.Update{Player: player, Text: line}, true
}

// Stop stops delivering input. A reader blocked in Read is left to finish
// on its own.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Done closes when the input reaches EOF or Stop is called.
func (a *Adapter) Done() <-chan struct{} { return a.done }

func (a *Adapter) SendText(_ context.Context, to storage.DBRef, text string) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, err := fmt.Fprintf(a.out, "%s %s\n", to, text)
	return err
}
