package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mushqueue/internal/eventbus"
	"mushqueue/internal/storage"
	"mushqueue/internal/task/scheduler"
	logx "mushqueue/pkg/logx"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// countingStore counts credits so tests can check one-payment refunds.
type countingStore struct {
	storage.Store
	credits map[DBRef]int
}

func (s *countingStore) AddMoney(ctx context.Context, obj DBRef, delta int64) (bool, error) {
	if delta > 0 {
		s.credits[obj]++
	}
	return s.Store.AddMoney(ctx, obj, delta)
}

type fixture struct {
	q     *Queue
	store *countingStore
	clk   *fakeClock
	ran   []string
	told  map[DBRef][]string
	bus   eventbus.Bus
}

const (
	wizard DBRef = 1
	alice  DBRef = 2
	bob    DBRef = 3
	gadget DBRef = 5 // owned by alice
	widget DBRef = 6 // owned by alice
	thing  DBRef = 7 // owned by bob
)

func newFixture(t *testing.T, cfg Config, eval Evaluator) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	objs := []storage.Object{
		{Ref: wizard, Name: "Wizard", Owner: storage.Nothing, Player: true, Privileged: true, FeeExempt: true},
		{Ref: alice, Name: "Alice", Owner: storage.Nothing, Player: true, Money: 100},
		{Ref: bob, Name: "Bob", Owner: storage.Nothing, Player: true, Money: 100},
		{Ref: gadget, Name: "Gadget", Owner: alice},
		{Ref: widget, Name: "Widget", Owner: alice},
		{Ref: thing, Name: "Thing", Owner: bob},
	}
	for _, o := range objs {
		if err := mem.Put(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		store: &countingStore{Store: mem, credits: map[DBRef]int{}},
		clk:   &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		told:  map[DBRef][]string{},
		bus:   eventbus.New(),
	}
	if eval == nil {
		eval = EvaluatorFunc(func(_ context.Context, ac *ActorContext, cmd string) error {
			f.ran = append(f.ran, ac.Player.String()+":"+cmd)
			return nil
		})
	}
	if cfg.MachineCost == 0 {
		cfg.MachineCost = -1
	}
	q, err := New(Options{
		Config:    cfg,
		Scheduler: scheduler.New(f.clk, logx.Nop()),
		Store:     f.store,
		Evaluator: eval,
		Notifier:  NotifierFunc(func(obj DBRef, msg string) { f.told[obj] = append(f.told[obj], msg) }),
		Bus:       f.bus,
		Log:       logx.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.q = q
	return f
}

func (f *fixture) req(player DBRef, cmd string) Request {
	return Request{Player: player, Cause: player, Caller: player, Command: cmd}
}

func (f *fixture) money(t *testing.T, obj DBRef) int64 {
	t.Helper()
	m, err := f.store.Money(context.Background(), obj)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (f *fixture) attr(t *testing.T, obj DBRef, a AttrID) int64 {
	t.Helper()
	v, err := f.store.AttrInt(context.Background(), obj, a)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func (f *fixture) setMoney(t *testing.T, obj DBRef, v int64) {
	t.Helper()
	ctx := context.Background()
	cur := f.money(t, obj)
	if _, err := f.store.AddMoney(ctx, obj, v-cur); err != nil {
		t.Fatal(err)
	}
	f.store.credits = map[DBRef]int{}
}

func (f *fixture) mustWait(t *testing.T, r Request, spec WaitSpec) *Entry {
	t.Helper()
	e, err := f.q.Wait(context.Background(), r, spec)
	if err != nil {
		t.Fatalf("Wait(%q): %v", r.Command, err)
	}
	return e
}

func TestConcreteScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 1}, nil)
	f.setMoney(t, alice, 5)

	f.mustWait(t, f.req(alice, "say hi"), Timed(0))
	if m := f.money(t, alice); m != 4 {
		t.Fatalf("balance after enqueue = %d, want 4", m)
	}
	if n := f.q.Ledger(alice); n != 1 {
		t.Fatalf("ledger after enqueue = %d, want 1", n)
	}
	if n := f.q.RunTasks(ctx, 1); n != 1 || len(f.ran) != 1 {
		t.Fatalf("RunTasks ran %d (%v)", n, f.ran)
	}
	if n := f.q.Ledger(alice); n != 0 {
		t.Fatalf("ledger after run = %d, want 0", n)
	}

	f.mustWait(t, f.req(alice, "later"), Timed(10*time.Second))
	if n := f.q.Tick(ctx, f.clk.now, 1); n != 0 {
		t.Fatalf("timed entry ran early")
	}
	if n := f.q.Warp(-10 * time.Second); n != 1 {
		t.Fatalf("Warp shifted %d entries, want 1", n)
	}
	if n := f.q.Tick(ctx, f.clk.now, 1); n != 1 || f.ran[len(f.ran)-1] != "#2:later" {
		t.Fatalf("warped entry did not run: %v", f.ran)
	}

	sem := storage.Attr("SEM")
	f.setMoney(t, alice, 50)
	f.mustWait(t, f.req(alice, "first"), WaitSpec{Sem: gadget, Attr: sem})
	f.mustWait(t, f.req(alice, "second"), WaitSpec{Sem: gadget, Attr: sem})
	if v := f.attr(t, gadget, sem); v != 2 {
		t.Fatalf("counter = %d, want 2", v)
	}
	if n := f.q.Notify(ctx, gadget, sem, 1); n != 1 {
		t.Fatalf("Notify converted %d, want 1", n)
	}
	if c := f.q.Counts(); c.Suspended != 1 || c.Ready != 1 {
		t.Fatalf("counts after notify = %+v", c)
	}
	f.q.RunTasks(ctx, 10)
	if got := f.ran[len(f.ran)-1]; got != "#2:first" {
		t.Fatalf("notified entry = %q, want first", got)
	}

	before := f.money(t, alice)
	if n := f.q.Drain(ctx, gadget, sem); n != 1 {
		t.Fatalf("Drain removed %d, want 1", n)
	}
	if got := f.money(t, alice); got != before+1 {
		t.Fatalf("drain refund: balance %d, want %d", got, before+1)
	}
	if f.q.Counts().Total() != 0 || f.q.Ledger(alice) != 0 || f.attr(t, gadget, sem) != 0 {
		t.Fatalf("drain left state behind: counts=%+v ledger=%d counter=%d", f.q.Counts(), f.q.Ledger(alice), f.attr(t, gadget, sem))
	}
}

func TestLedgerTracksAdmissionsMinusRetirements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 1}, nil)
	for i := 0; i < 7; i++ {
		f.mustWait(t, f.req(alice, "x"), Timed(time.Duration(i)*time.Second))
	}
	f.mustWait(t, f.req(alice, "blocked"), WaitSpec{Sem: widget})
	if n := f.q.Ledger(alice); n != 8 {
		t.Fatalf("ledger = %d, want 8", n)
	}
	ran := f.q.Tick(ctx, f.clk.now.Add(2*time.Second), 100)
	drained := f.q.Drain(ctx, widget, 0)
	if want := 8 - ran - drained; f.q.Ledger(alice) != want {
		t.Fatalf("ledger = %d, want %d (ran %d drained %d)", f.q.Ledger(alice), want, ran, drained)
	}
	if c, _ := f.store.QueueCount(ctx, alice); c != f.q.Ledger(alice) {
		t.Fatalf("persisted count %d != ledger %d", c, f.q.Ledger(alice))
	}
}

func TestWaitThenDrainRefundsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, count := range []int{0, 1, 5} {
		f := newFixture(t, Config{WaitCost: 3}, nil)
		start := f.money(t, alice)
		sem := storage.Attr("LOCK")
		for i := 0; i < 3; i++ {
			f.mustWait(t, f.req(alice, "w"), WaitSpec{Sem: gadget, Attr: sem, Delay: time.Duration(i) * time.Minute})
		}
		if n := f.q.Drain(ctx, gadget, sem); n != 3 {
			t.Fatalf("Drain removed %d, want 3", n)
		}
		if n := f.q.Notify(ctx, gadget, sem, count); n != 0 {
			t.Fatalf("Notify(%d) after drain converted %d", count, n)
		}
		if f.q.Counts().Total() != 0 {
			t.Fatalf("entries left after drain: %+v", f.q.Counts())
		}
		if got := f.money(t, alice); got != start {
			t.Fatalf("balance %d, want full refund to %d", got, start)
		}
	}
}

func TestSuspendedWaitIgnoresTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(alice, "blocked"), WaitSpec{Sem: gadget})
	if n := f.q.Tick(ctx, f.clk.now.Add(24*time.Hour), 100); n != 0 {
		t.Fatalf("suspended entry ran without notify")
	}
	if n := f.q.Kick(ctx, 100); n != 0 {
		t.Fatalf("Kick ran a suspended entry")
	}
	f.q.Notify(ctx, gadget, storage.AttrSemaphore, 1)
	if n := f.q.RunTasks(ctx, 100); n != 1 {
		t.Fatalf("notified entry did not run")
	}
}

func TestNotifyConvertsAtMostCount(t *testing.T) {
	t.Parallel()
	cases := []struct {
		waiting, count, want int
	}{
		{waiting: 3, count: 1, want: 1},
		{waiting: 3, count: 3, want: 3},
		{waiting: 2, count: 5, want: 2},
		{waiting: 0, count: 2, want: 0},
	}
	for _, tc := range cases {
		ctx := context.Background()
		f := newFixture(t, Config{}, nil)
		for i := 0; i < tc.waiting; i++ {
			f.mustWait(t, f.req(alice, "w"), WaitSpec{Sem: gadget})
		}
		if got := f.q.Notify(ctx, gadget, storage.AttrSemaphore, tc.count); got != tc.want {
			t.Fatalf("waiting=%d count=%d: converted %d, want %d", tc.waiting, tc.count, got, tc.want)
		}
		if c := f.q.Counts(); c.Suspended != tc.waiting-tc.want {
			t.Fatalf("waiting=%d count=%d: %d still blocked", tc.waiting, tc.count, c.Suspended)
		}
		// The counter drops by the requested count.
		if v := f.attr(t, gadget, storage.AttrSemaphore); v != int64(tc.waiting-tc.count) {
			t.Fatalf("counter = %d, want %d", v, tc.waiting-tc.count)
		}
	}
}

func TestNotifyAnyAttrReleasesEachCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	other := storage.Attr("OTHER")
	f.mustWait(t, f.req(alice, "sem"), WaitSpec{Sem: gadget})
	f.clk.now = f.clk.now.Add(time.Second)
	f.mustWait(t, f.req(alice, "other"), WaitSpec{Sem: gadget, Attr: other})

	if n := f.q.Notify(ctx, gadget, 0, 1); n != 1 {
		t.Fatalf("Notify converted %d, want 1", n)
	}
	f.q.RunTasks(ctx, 10)
	if strings.Join(f.ran, ",") != "#2:sem" {
		t.Fatalf("ran %v", f.ran)
	}
	if v := f.attr(t, gadget, storage.AttrSemaphore); v != 0 {
		t.Fatalf("SEMAPHORE counter = %d after its only waiter was released", v)
	}
	if v := f.attr(t, gadget, other); v != 1 {
		t.Fatalf("OTHER counter = %d, want 1", v)
	}

	e := f.mustWait(t, f.req(alice, "again"), WaitSpec{Sem: gadget})
	if !e.Blocked() || f.attr(t, gadget, storage.AttrSemaphore) != 1 {
		t.Fatalf("next wait: blocked=%v counter=%d", e.Blocked(), f.attr(t, gadget, storage.AttrSemaphore))
	}
	if n := f.q.NotifyAll(ctx, gadget, 0); n != 1 {
		t.Fatalf("NotifyAll released %d, want 1", n)
	}
}

func TestNotifyOrderIsDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	for _, cmd := range []string{"a", "b", "c"} {
		f.mustWait(t, f.req(alice, cmd), WaitSpec{Sem: gadget})
		f.clk.now = f.clk.now.Add(time.Second)
	}
	f.q.Notify(ctx, gadget, storage.AttrSemaphore, 2)
	f.q.RunTasks(ctx, 10)
	if strings.Join(f.ran, ",") != "#2:a,#2:b" {
		t.Fatalf("ran %v, want the two oldest waits", f.ran)
	}
}

func TestOverNotifiedWaitRunsAtOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.q.Notify(ctx, gadget, storage.AttrSemaphore, 1)
	if v := f.attr(t, gadget, storage.AttrSemaphore); v != -1 {
		t.Fatalf("counter = %d, want -1", v)
	}
	e := f.mustWait(t, f.req(alice, "go"), WaitSpec{Sem: gadget})
	if e.Blocked() {
		t.Fatalf("entry should not block on an over-notified semaphore")
	}
	if n := f.q.RunTasks(ctx, 10); n != 1 {
		t.Fatalf("entry did not run immediately")
	}
}

func TestSemaphoreTimeoutReleasesCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(alice, "timeout"), WaitSpec{Sem: gadget, Delay: 30 * time.Second})
	if v := f.attr(t, gadget, storage.AttrSemaphore); v != 1 {
		t.Fatalf("counter = %d, want 1", v)
	}
	if n := f.q.Tick(ctx, f.clk.now.Add(29*time.Second), 10); n != 0 {
		t.Fatalf("timed wait fired early")
	}
	if n := f.q.Tick(ctx, f.clk.now.Add(30*time.Second), 10); n != 1 {
		t.Fatalf("timed wait did not fire")
	}
	if v := f.attr(t, gadget, storage.AttrSemaphore); v != 0 {
		t.Fatalf("counter after timeout = %d, want 0", v)
	}
	// Notify after the timeout won finds nothing.
	if n := f.q.Notify(ctx, gadget, storage.AttrSemaphore, 1); n != 0 {
		t.Fatalf("late notify converted %d", n)
	}
}

func TestNotifyBeatsTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(alice, "raced"), WaitSpec{Sem: gadget, Delay: 30 * time.Second})
	f.q.Notify(ctx, gadget, storage.AttrSemaphore, 1)
	f.q.Tick(ctx, f.clk.now.Add(time.Hour), 10)
	if len(f.ran) != 1 {
		t.Fatalf("entry ran %d times, want once", len(f.ran))
	}
	if v := f.attr(t, gadget, storage.AttrSemaphore); v != 0 {
		t.Fatalf("counter = %d, want 0", v)
	}
}

func TestHaltOwnerRefundsInOnePayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 10}, nil)
	aliceStart, bobStart := f.money(t, alice), f.money(t, bob)
	f.mustWait(t, f.req(gadget, "a1"), Timed(time.Minute))
	f.mustWait(t, f.req(widget, "a2"), Timed(0))
	f.mustWait(t, f.req(gadget, "a3"), WaitSpec{Sem: thing})
	f.mustWait(t, f.req(thing, "b1"), Timed(time.Minute))

	if n := f.q.Halt(ctx, alice, Any); n != 3 {
		t.Fatalf("Halt removed %d, want 3", n)
	}
	if got := f.money(t, alice); got != aliceStart {
		t.Fatalf("alice balance %d, want %d", got, aliceStart)
	}
	if f.store.credits[alice] != 1 {
		t.Fatalf("alice refunded in %d payments, want 1", f.store.credits[alice])
	}
	if f.q.Ledger(alice) != 0 || f.q.Ledger(bob) != 1 {
		t.Fatalf("ledgers alice=%d bob=%d", f.q.Ledger(alice), f.q.Ledger(bob))
	}
	if got := f.money(t, bob); got != bobStart-10 {
		t.Fatalf("bob should be untouched, balance %d", got)
	}
	if v := f.attr(t, thing, storage.AttrSemaphore); v != 0 {
		t.Fatalf("halted wait left counter %d", v)
	}
	if h, _ := f.store.Halted(ctx, gadget); h {
		t.Fatalf("owner-wide halt should not flag objects")
	}
}

func TestHaltObjectFlagsItUntilRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(gadget, "g"), Timed(time.Minute))
	f.mustWait(t, f.req(widget, "w"), Timed(time.Minute))

	if n := f.q.Halt(ctx, Any, gadget); n != 1 {
		t.Fatalf("Halt removed %d, want 1", n)
	}
	if f.q.Ledger(alice) != 1 {
		t.Fatalf("ledger = %d, want 1", f.q.Ledger(alice))
	}
	_, err := f.q.Enqueue(ctx, f.req(gadget, "again"))
	if !errors.Is(err, ErrHalted) || !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("Enqueue on halted object err = %v", err)
	}
	var ae *AdmissionError
	if !errors.As(err, &ae) || ae.Player != gadget {
		t.Fatalf("expected *AdmissionError for #5, got %v", err)
	}
	if err := f.q.Restart(ctx, gadget); err != nil {
		t.Fatal(err)
	}
	f.mustWait(t, f.req(gadget, "again"), Timed(0))
}

func TestHaltedExecutorSkipsAtRunTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(gadget, "g"), Timed(0))
	if err := f.store.SetHalted(ctx, gadget, true); err != nil {
		t.Fatal(err)
	}
	if n := f.q.RunTasks(ctx, 10); n != 1 || len(f.ran) != 0 {
		t.Fatalf("halted executor ran: n=%d ran=%v", n, f.ran)
	}
	if f.q.Ledger(alice) != 0 {
		t.Fatalf("entry not retired")
	}
}

func TestQuotaExceededHaltsOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 10}, nil)
	two := 2
	o, _ := f.store.Get(ctx, alice)
	o.QueueMax = &two
	if err := f.store.Put(ctx, o); err != nil {
		t.Fatal(err)
	}
	start := f.money(t, alice)
	f.mustWait(t, f.req(gadget, "1"), Timed(time.Minute))
	f.mustWait(t, f.req(widget, "2"), Timed(time.Minute))

	_, err := f.q.Wait(ctx, f.req(gadget, "3"), Timed(time.Minute))
	if !errors.Is(err, ErrQuotaExceeded) || !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if f.q.Counts().Total() != 0 || f.q.Ledger(alice) != 0 {
		t.Fatalf("runaway owner not halted: counts=%+v ledger=%d", f.q.Counts(), f.q.Ledger(alice))
	}
	if h, _ := f.store.Halted(ctx, gadget); !h {
		t.Fatalf("enqueuing object should be flagged halted")
	}
	if got := f.money(t, alice); got != start {
		t.Fatalf("balance %d, want everything refunded to %d", got, start)
	}
	if msgs := f.told[alice]; len(msgs) != 1 || msgs[0] != msgRunaway {
		t.Fatalf("owner told %v", msgs)
	}
}

func TestInsufficientFunds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 10}, nil)
	f.setMoney(t, alice, 9)
	_, err := f.q.Enqueue(ctx, f.req(gadget, "x"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want insufficient funds", err)
	}
	if f.money(t, alice) != 9 || f.q.Ledger(alice) != 0 {
		t.Fatalf("refused admission changed state")
	}
	if msgs := f.told[alice]; len(msgs) != 1 || msgs[0] != msgNoMoney {
		t.Fatalf("owner told %v", msgs)
	}
}

func TestMachineCostSurchargeIsNotRefunded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{WaitCost: 10, MachineCost: 64}, nil)
	f.q.intn = func(int) int { return 0 }
	start := f.money(t, alice)
	f.mustWait(t, f.req(alice, "x"), Timed(time.Minute))
	if got := f.money(t, alice); got != start-11 {
		t.Fatalf("balance %d, want %d", got, start-11)
	}
	f.q.Halt(ctx, alice, Any)
	if got := f.money(t, alice); got != start-1 {
		t.Fatalf("balance after halt %d, want %d", got, start-1)
	}
}

func TestPrivilegedOwnerCeilingAndFeeExemption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{QueueMax: 1}, nil)
	objects, _ := f.store.ObjectCount(ctx)
	for i := 0; i < objects+1; i++ {
		f.mustWait(t, f.req(wizard, "w"), Timed(time.Minute))
	}
	if m := f.money(t, wizard); m != 0 {
		t.Fatalf("fee-exempt owner charged, balance %d", m)
	}
	if _, err := f.q.Enqueue(ctx, f.req(wizard, "one too many")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded past object count + 1", err)
	}
}

func TestPriorityFollowsCause(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, Request{Player: gadget, Cause: widget, Command: "object-caused"}, Timed(0))
	f.mustWait(t, Request{Player: gadget, Cause: alice, Command: "player-caused"}, Timed(0))
	f.q.RunTasks(ctx, 10)
	if strings.Join(f.ran, ",") != "#5:player-caused,#5:object-caused" {
		t.Fatalf("run order %v", f.ran)
	}
}

func TestKickRunsWhileDequeueDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.q.SetDequeueEnabled(false)
	for i := 0; i < 3; i++ {
		f.mustWait(t, f.req(alice, "k"), Timed(0))
	}
	if n := f.q.Tick(ctx, f.clk.now, 10); n != 0 {
		t.Fatalf("ran %d with dequeue disabled", n)
	}
	if n := f.q.Kick(ctx, 2); n != 2 {
		t.Fatalf("Kick ran %d, want 2", n)
	}
	if f.q.DequeueEnabled() {
		t.Fatalf("Kick should restore the disabled floor")
	}
}

func TestRunRefundsDepositAndChargesCPU(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var f *fixture
	f = newFixture(t, Config{WaitCost: 10, SlowCommand: time.Second}, EvaluatorFunc(func(_ context.Context, ac *ActorContext, cmd string) error {
		f.clk.now = f.clk.now.Add(2 * time.Second)
		return nil
	}))
	events, unsub := f.bus.Subscribe(4)
	defer unsub()
	start := f.money(t, alice)
	f.mustWait(t, f.req(gadget, "slow"), Timed(0))
	f.q.RunTasks(ctx, 1)
	if got := f.money(t, alice); got != start {
		t.Fatalf("deposit not returned on run: %d vs %d", got, start)
	}
	if cpu, _ := f.store.CPU(ctx, gadget); cpu <= 0 {
		t.Fatalf("no CPU charged to executor")
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.QueueSlow {
			t.Fatalf("event = %s, want %s", ev.Type, eventbus.QueueSlow)
		}
	default:
		t.Fatalf("slow command not published")
	}
}

func TestEvaluatorPanicIsContained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, EvaluatorFunc(func(context.Context, *ActorContext, string) error {
		panic("boom")
	}))
	f.mustWait(t, f.req(alice, "a"), Timed(0))
	f.mustWait(t, f.req(alice, "b"), Timed(0))
	if n := f.q.RunTasks(ctx, 10); n != 2 {
		t.Fatalf("RunTasks = %d after panic, want 2", n)
	}
	if f.q.Ledger(alice) != 0 {
		t.Fatalf("panicking entries not retired")
	}
}

func TestInlineNestingLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	depth := 0
	var last error
	eval := EvaluatorFunc(func(ctx context.Context, ac *ActorContext, cmd string) error {
		depth++
		if err := ac.Inline(ctx, cmd); err != nil {
			last = err
		}
		return nil
	})
	f := newFixture(t, Config{NestLimit: 5}, eval)
	if err := f.q.RunNow(ctx, f.req(alice, "recurse")); err != nil {
		t.Fatal(err)
	}
	if depth != 5 || !errors.Is(last, ErrNestLimit) {
		t.Fatalf("depth=%d last=%v", depth, last)
	}
}

func TestResyncRepairsDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(alice, "x"), Timed(time.Minute))
	f.q.ledger[alice] = 9
	f.q.ledger[bob] = 2
	if n := f.q.Resync(ctx); n != 2 {
		t.Fatalf("Resync fixed %d, want 2", n)
	}
	if f.q.Ledger(alice) != 1 || f.q.Ledger(bob) != 0 {
		t.Fatalf("ledgers alice=%d bob=%d", f.q.Ledger(alice), f.q.Ledger(bob))
	}
}

func TestPsListsAndRenders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.mustWait(t, f.req(gadget, "now"), Timed(0))
	f.mustWait(t, Request{Player: gadget, Cause: alice, Command: "later", Args: []string{"x"}}, Timed(90*time.Second))
	f.mustWait(t, f.req(thing, "blocked"), WaitSpec{Sem: gadget, Attr: storage.Attr("SEM")})

	l := f.q.Ps(ctx, PsFilter{Owner: alice, Object: Any})
	if len(l.Immediate) != 1 || len(l.Waiting) != 1 || len(l.Semaphore) != 0 {
		t.Fatalf("filtered listing = %+v", l)
	}
	if l.SemaphoreTotal != 1 {
		t.Fatalf("totals should include unfiltered entries")
	}
	out := l.Render(Long)
	for _, want := range []string{"Gadget(#5):now", "[90]Gadget(#5):later", "%0='x'", "Totals: Queue...1/1  Wait...1/1  Semaphore...0/1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	if s := f.q.Ps(ctx, PsFilter{Owner: Any, Object: Any}).Render(Summary); strings.Contains(s, "Gadget") {
		t.Fatalf("summary should print totals only: %s", s)
	}
	all := f.q.Ps(ctx, PsFilter{Owner: Any, Object: Any}).Render(Brief)
	if !strings.Contains(all, "[#5/SEM]Thing(#7):blocked") {
		t.Fatalf("semaphore line missing:\n%s", all)
	}
}

func TestSystemTickDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	var got []int
	f.q.sysTick = func(_ context.Context, sub int) { got = append(got, sub) }
	f.q.SetDequeueEnabled(false)
	if _, err := f.q.Scheduler().DeferImmediateTask(scheduler.PrioritySystem, scheduler.ActionSystemTick, nil, 7); err != nil {
		t.Fatal(err)
	}
	f.q.RunTasks(ctx, 10)
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("system tick got %v", got)
	}
}

func TestCloseHaltsAndRefunds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	start := f.money(t, alice)
	f.mustWait(t, f.req(alice, "x"), Timed(time.Hour))
	if n := f.q.Close(ctx); n != 1 {
		t.Fatalf("Close halted %d, want 1", n)
	}
	if f.money(t, alice) != start {
		t.Fatalf("Close did not refund")
	}
	if _, err := f.q.Wait(ctx, f.req(alice, "y"), Timed(0)); !errors.Is(err, scheduler.ErrClosed) {
		t.Fatalf("Wait after Close err = %v", err)
	}
	if f.money(t, alice) != start || f.q.Ledger(alice) != 0 {
		t.Fatalf("failed wait after Close was not unwound")
	}
}

func TestInvalidSemaphoreTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	start := f.money(t, alice)
	e, err := f.q.Enqueue(context.Background(), f.req(alice, "y"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.q.WaitOnSemaphore(context.Background(), e, storage.Nothing, 0, 0); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("err = %v, want ErrInvalidTarget", err)
	}
	if n := f.q.Ledger(alice); n != 0 {
		t.Fatalf("rejected wait not unwound, ledger %d", n)
	}
	if m := f.money(t, alice); m != start {
		t.Fatalf("deposit not refunded: balance %d, want %d", m, start)
	}
	if f.q.Counts().Total() != 0 {
		t.Fatalf("rejected wait left a record: %+v", f.q.Counts())
	}
}
