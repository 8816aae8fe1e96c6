package reconnect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTimers captures scheduled retries instead of running them, so the
// backoff schedule can be asserted and attempts fired deterministically.
type fakeTimers struct {
	delays chan time.Duration
	fns    chan func()
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{
		delays: make(chan time.Duration, 32),
		fns:    make(chan func(), 32),
	}
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) *time.Timer {
	f.delays <- d
	f.fns <- fn
	return time.NewTimer(time.Hour)
}

func (f *fakeTimers) next(t *testing.T) (time.Duration, func()) {
	t.Helper()
	select {
	case d := <-f.delays:
		return d, <-f.fns
	case <-time.After(2 * time.Second):
		t.Fatal("no retry scheduled")
		return 0, nil
	}
}

func (f *fakeTimers) none(t *testing.T) {
	t.Helper()
	select {
	case d := <-f.delays:
		t.Fatalf("unexpected retry scheduled with delay %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_BackoffScheduleAndDegraded(t *testing.T) {
	timers := newFakeTimers()
	var dials atomic.Int32

	c := New(DefaultConfig(), Hooks{
		Dial: func(ctx context.Context) error {
			dials.Add(1)
			return errors.New("connection refused")
		},
		PollTick:   func(ctx context.Context) {},
		HasPending: func() bool { return false },
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
		11390625 * time.Microsecond,
		17085937500 * time.Nanosecond,
		25628906250 * time.Nanosecond,
		30 * time.Second,
	}

	for i, wantDelay := range want {
		delay, fire := timers.next(t)
		if delay != wantDelay {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, delay, wantDelay)
		}
		if got := c.State(); got != Reconnecting {
			t.Fatalf("attempt %d: state = %v, want reconnecting", i+1, got)
		}
		// Fire the scheduled attempt; the dial fails again.
		fire()
	}

	// The tenth scheduled attempt failed: the push channel is abandoned
	// and no further reconnect may be scheduled.
	if got := c.State(); got != Degraded {
		t.Fatalf("state = %v, want degraded", got)
	}
	timers.none(t)

	// Further failures are no-ops in the terminal state.
	c.connectionFailed()
	c.OnClose(errors.New("late close"))
	timers.none(t)
	if got := c.State(); got != Degraded {
		t.Fatalf("state after extra failures = %v, want degraded", got)
	}
}

func TestController_OpenResetsSchedule(t *testing.T) {
	timers := newFakeTimers()

	c := New(DefaultConfig(), Hooks{
		Dial:       func(ctx context.Context) error { return errors.New("refused") },
		PollTick:   func(ctx context.Context) {},
		HasPending: func() bool { return false },
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())

	// Burn through a few failed attempts.
	for i := 0; i < 3; i++ {
		_, fire := timers.next(t)
		fire()
	}
	d, _ := timers.next(t)
	if d != 3375*time.Millisecond {
		t.Fatalf("fourth delay = %v, want 3.375s", d)
	}

	// A successful open resets the attempt counter and the delay curve.
	c.OnOpen()
	if got := c.State(); got != Connected {
		t.Fatalf("state = %v, want connected", got)
	}
	if got := c.Attempts(); got != 0 {
		t.Fatalf("attempts after open = %d, want 0", got)
	}

	c.OnClose(errors.New("dropped again"))
	d, _ = timers.next(t)
	if d != 1000*time.Millisecond {
		t.Fatalf("first delay after reset = %v, want 1s", d)
	}
}

func TestController_StaleTimerIsNoOp(t *testing.T) {
	timers := newFakeTimers()
	var dials atomic.Int32

	c := New(DefaultConfig(), Hooks{
		Dial: func(ctx context.Context) error {
			dials.Add(1)
			return errors.New("refused")
		},
		PollTick:   func(ctx context.Context) {},
		HasPending: func() bool { return false },
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())
	_, fire := timers.next(t)
	before := dials.Load()

	// The state moves on before the timer fires; the queued retry must
	// not dial.
	c.OnOpen()
	fire()

	if got := dials.Load(); got != before {
		t.Fatalf("stale timer dialed: %d -> %d", before, got)
	}
}

func TestController_FailoverArmsPoller(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	ticks := make(chan struct{}, 16)
	pending := atomic.Bool{}
	pending.Store(true)

	timers := newFakeTimers()
	c := New(cfg, Hooks{
		Dial:     func(ctx context.Context) error { return nil },
		PollTick: func(ctx context.Context) { ticks <- struct{}{} },
		HasPending: func() bool {
			return pending.Load()
		},
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())
	c.OnOpen()
	if c.PollerActive() {
		t.Fatal("poller must be disarmed while connected")
	}

	// With a message in flight, losing the push channel arms the poller,
	// which ticks immediately.
	c.OnClose(errors.New("dropped"))
	if !c.PollerActive() {
		t.Fatal("poller not armed after disconnect with pending message")
	}
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("poller did not tick")
	}

	// Reconnecting disarms it again.
	c.OnOpen()
	if c.PollerActive() {
		t.Fatal("poller must be disarmed after reconnect")
	}
}

func TestController_NoPollerWithoutPending(t *testing.T) {
	timers := newFakeTimers()
	c := New(DefaultConfig(), Hooks{
		Dial:       func(ctx context.Context) error { return nil },
		PollTick:   func(ctx context.Context) {},
		HasPending: func() bool { return false },
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())
	c.OnOpen()
	c.OnClose(errors.New("dropped"))

	if c.PollerActive() {
		t.Fatal("poller armed with nothing pending")
	}

	// A message becoming pending while disconnected arms it.
	c.NotifyPending()
	if !c.PollerActive() {
		t.Fatal("NotifyPending did not arm the poller while disconnected")
	}
}

func TestController_NotifyPendingWhileConnected(t *testing.T) {
	timers := newFakeTimers()
	c := New(DefaultConfig(), Hooks{
		Dial:       func(ctx context.Context) error { return nil },
		PollTick:   func(ctx context.Context) {},
		HasPending: func() bool { return true },
	}, nil)
	c.afterFunc = timers.afterFunc
	defer c.Close()

	c.Start(context.Background())
	c.OnOpen()
	c.NotifyPending()

	if c.PollerActive() {
		t.Fatal("poller must stay disarmed while push is authoritative")
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connected:    "connected",
		Reconnecting: "reconnecting",
		Degraded:     "degraded",
		State(99):    "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
