// Package reconnect supervises the push channel and decides when the
// fallback poller runs.
//
// The controller owns a small state machine: a healthy push connection is
// Connected; any close or error moves it to Disconnected and starts a
// bounded exponential backoff schedule (Reconnecting); once the retry
// ceiling is reached the push channel is abandoned for good (Degraded) and
// only polling is used. Whenever the push channel is down and messages are
// in flight, the poller is armed so those messages can still resolve.
package reconnect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the connection state of the push channel.
type State int

const (
	// Disconnected means the push connection is down and no retry has
	// been scheduled yet.
	Disconnected State = iota
	// Connected means the push connection is live and authoritative.
	Connected
	// Reconnecting means a retry is scheduled or in flight.
	Reconnecting
	// Degraded means the retry ceiling was reached; the push channel is
	// abandoned and only the poller is used. Terminal.
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config tunes the retry schedule and the fallback poller.
type Config struct {
	// InitialDelay is the first retry delay.
	InitialDelay time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// MaxAttempts is the number of failed reconnect attempts tolerated
	// before the push channel is abandoned.
	MaxAttempts int
	// PollInterval is the fallback poller tick.
	PollInterval time.Duration
}

// DefaultConfig matches the schedule the laibrary service documents:
// delay = min(1s * 1.5^attempt, 30s), ten attempts, 1s poll interval.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Multiplier:   1.5,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
		PollInterval: time.Second,
	}
}

// Hooks connect the controller to its owner. Dial and PollTick are
// required; the rest are optional.
type Hooks struct {
	// Dial attempts to open the push channel. On success the owner
	// installs the new connection and calls OnOpen; Dial returns an
	// error only when the attempt fails outright.
	Dial func(ctx context.Context) error

	// PollTick performs a single pull request and routes its updates
	// into the reconciler. Errors are the owner's to swallow; the next
	// tick retries.
	PollTick func(ctx context.Context)

	// HasPending reports whether any submitted message is unresolved.
	HasPending func() bool

	// StateChanged is invoked after every state transition.
	StateChanged func(State)
}

// Controller drives push-channel recovery and poller arming.
type Controller struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	// generation guards timers: a retry firing after its epoch moved on
	// is a no-op.
	generation int
	bo         *backoff.ExponentialBackOff
	retryTimer *time.Timer

	pollStop chan struct{}
	pollDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	// afterFunc schedules retries; replaced in tests to observe delays.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a Controller. Call Start to make the first dial attempt.
func New(cfg Config, hooks Hooks, logger *slog.Logger) *Controller {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxDelay
	// The schedule must match the documented retry curve exactly.
	bo.RandomizationFactor = 0
	// Retries are bounded by attempt count, never by elapsed time.
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Controller{
		cfg:       cfg,
		hooks:     hooks,
		logger:    logger,
		state:     Disconnected,
		bo:        bo,
		afterFunc: time.AfterFunc,
	}
}

// Start makes the initial dial attempt. The controller runs until Close.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	dialCtx := c.ctx
	c.mu.Unlock()

	go func() {
		if err := c.hooks.Dial(dialCtx); err != nil {
			if c.logger != nil {
				c.logger.Info("Initial connect failed", "error", err)
			}
			c.connectionFailed()
		}
	}()
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the failed reconnect attempt count.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// PollerActive reports whether the fallback poller is armed.
func (c *Controller) PollerActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollStop != nil
}

// OnOpen is called by the owner when a push connection is established.
// The retry schedule resets and the poller is disarmed: push is now
// authoritative, and polling would only waste requests. A poll already in
// flight may still deliver; the reconciler absorbs the overlap.
func (c *Controller) OnOpen() {
	c.mu.Lock()
	if c.closed || c.state == Degraded {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Connected)
	c.attempts = 0
	c.bo.Reset()
	c.stopRetryTimerLocked()
	c.disarmPollerLocked()
	notify := c.hooks.StateChanged
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Push channel connected")
	}
	if notify != nil {
		notify(Connected)
	}
}

// OnClose is called by the owner when the push connection drops. Every
// closure is treated as a failure to recover from.
func (c *Controller) OnClose(err error) {
	c.mu.Lock()
	if c.closed || c.state == Degraded || c.state == Reconnecting {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Disconnected)
	c.armPollerIfPendingLocked()
	notify := c.hooks.StateChanged
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn("Push channel lost", "error", err)
	}
	if notify != nil {
		notify(Disconnected)
	}
	c.connectionFailed()
}

// NotifyPending is called when a message becomes pending. If the push
// channel is down, the poller is armed so the message can still resolve.
func (c *Controller) NotifyPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == Connected {
		return
	}
	c.armPollerLocked()
}

// connectionFailed records one failed attempt and schedules the next
// retry, or abandons the push channel once the ceiling is reached.
func (c *Controller) connectionFailed() {
	c.mu.Lock()
	if c.closed || c.state == Degraded || c.state == Connected {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.cfg.MaxAttempts {
		c.enterDegradedLocked()
		return // enterDegradedLocked unlocks
	}

	c.attempts++
	delay := c.bo.NextBackOff()
	changed := c.state != Reconnecting
	c.setStateLocked(Reconnecting)
	gen := c.generation
	c.retryTimer = c.afterFunc(delay, func() { c.retry(gen) })
	notify := c.hooks.StateChanged
	attempt := c.attempts
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)
	}
	if changed && notify != nil {
		notify(Reconnecting)
	}
}

// retry performs one scheduled reconnect attempt.
func (c *Controller) retry(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.generation || c.state != Reconnecting {
		// Stale timer: the state moved on while this was queued.
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.hooks.Dial(ctx); err != nil {
		if c.logger != nil {
			c.logger.Info("Reconnect attempt failed", "error", err)
		}
		c.connectionFailed()
	}
}

// enterDegradedLocked abandons the push channel. Must be called with c.mu
// held; unlocks before returning.
func (c *Controller) enterDegradedLocked() {
	c.setStateLocked(Degraded)
	c.stopRetryTimerLocked()
	c.armPollerIfPendingLocked()
	notify := c.hooks.StateChanged
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn("Retry ceiling reached, falling back to polling permanently",
			"attempts", c.cfg.MaxAttempts)
	}
	if notify != nil {
		notify(Degraded)
	}
}

// setStateLocked bumps the timer generation along with the state so stale
// retries cannot fire across a transition.
func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.generation++
}

func (c *Controller) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) armPollerIfPendingLocked() {
	if c.hooks.HasPending != nil && c.hooks.HasPending() {
		c.armPollerLocked()
	}
}

// armPollerLocked starts the fixed-interval pull loop. Idempotent.
func (c *Controller) armPollerLocked() {
	if c.pollStop != nil || c.ctx == nil {
		return
	}
	c.pollStop = make(chan struct{})
	c.pollDone = make(chan struct{})
	go c.pollLoop(c.ctx, c.pollStop, c.pollDone)

	if c.logger != nil {
		c.logger.Info("Fallback poller armed", "interval", c.cfg.PollInterval)
	}
}

// disarmPollerLocked stops the pull loop without waiting for an in-flight
// tick; a late poll result is harmless because resolution is idempotent.
func (c *Controller) disarmPollerLocked() {
	if c.pollStop == nil {
		return
	}
	close(c.pollStop)
	c.pollStop = nil
	c.pollDone = nil

	if c.logger != nil {
		c.logger.Info("Fallback poller disarmed")
	}
}

// pollLoop ticks until stopped. The first tick fires immediately so an
// in-flight message can resolve without waiting a full interval.
func (c *Controller) pollLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	c.hooks.PollTick(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.hooks.PollTick(ctx)
		}
	}
}

// Close stops the controller, its retry timer, and the poller. It does not
// touch the push connection; that is the owner's to tear down.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopRetryTimerLocked()
	done := c.pollDone
	c.disarmPollerLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}
