// Package session provides the Courier session client: the single surface
// the UI layer talks to. It composes the channel transport, the
// reconnection controller, and the delivery reconciler, and owns all
// session-scoped state, so multiple independent sessions can coexist in
// one process.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/laibrary/courier/internal/conversion"
	"github.com/laibrary/courier/internal/logging"
	"github.com/laibrary/courier/internal/protocol"
	"github.com/laibrary/courier/internal/reconcile"
	"github.com/laibrary/courier/internal/reconnect"
	"github.com/laibrary/courier/internal/transport"
)

// ErrEmptyMessage is returned when submitting an empty message.
var ErrEmptyMessage = errors.New("empty message")

// Result is one rendered outcome delivered to the subscriber, exactly
// once per resolved message and once per immediate response.
type Result struct {
	// MessageID is zero for immediate responses.
	MessageID int64
	// Text is the raw response text (markdown) on success.
	Text string
	// HTML is the sanitized rendering of Text; empty for failures.
	HTML string
	// Error is the remote failure text; empty on success.
	Error string
	// Project is the active project at resolution time, if reported.
	Project string
	// UpdatedDocs reports whether the service modified project documents.
	UpdatedDocs bool
	// UpdateDetails carries service-specific detail about the update.
	UpdateDetails json.RawMessage
	// Replaced is true when this result resolves a pending placeholder
	// in place rather than appending a new one.
	Replaced bool
}

// Callbacks receive session events. All callbacks are optional. They are
// invoked in event order; OnResult is never called twice for the same
// message identifier within one conversation session.
type Callbacks struct {
	OnResult        func(Result)
	OnStateChange   func(reconnect.State)
	OnProjectChange func(project string)
	OnPendingCount  func(count int)
	OnCleared       func()
	OnError         func(message string)
}

// Option configures the session client.
type Option func(*Client)

// WithReconnectConfig overrides the reconnection schedule.
func WithReconnectConfig(cfg reconnect.Config) Option {
	return func(c *Client) {
		c.reconnectCfg = cfg
	}
}

// WithHTTPClient sets the HTTP client used on the pull path.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.pullOpts = append(c.pullOpts, transport.WithHTTPClient(hc))
	}
}

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Client maintains one conversation session with the laibrary service.
type Client struct {
	id      string
	baseURL string
	cb      Callbacks
	logger  *slog.Logger

	reconnectCfg reconnect.Config
	pullOpts     []transport.PullOption

	pull   *transport.Pull
	dialer *transport.Dialer
	tr     *transport.Transport
	rec    *reconcile.Reconciler
	ctrl   *reconnect.Controller
	conv   *conversion.Converter

	mu      sync.Mutex
	project string
	closed  bool
}

// New creates a session client for the service at baseURL. Call Start to
// begin connecting.
func New(baseURL string, cb Callbacks, opts ...Option) *Client {
	c := &Client{
		id:           uuid.NewString(),
		baseURL:      baseURL,
		cb:           cb,
		reconnectCfg: reconnect.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithClient(logging.Session(), c.id)
	}

	c.pull = transport.NewPull(baseURL, logging.Transport(), c.pullOpts...)
	c.tr = transport.New(c.pull)
	c.dialer = transport.NewDialer(baseURL, logging.Transport())
	c.conv = conversion.NewConverter()

	c.rec = reconcile.New(reconcile.Callbacks{
		OnResolution:   c.handleResolution,
		OnQueued:       c.handleQueued,
		OnPendingCount: cb.OnPendingCount,
		OnStatus:       c.handleStatus,
		OnCleared:      cb.OnCleared,
		OnError:        cb.OnError,
	}, logging.Reconcile())

	c.ctrl = reconnect.New(c.reconnectCfg, reconnect.Hooks{
		Dial:         c.dialPush,
		PollTick:     c.pollOnce,
		HasPending:   c.rec.HasPending,
		StateChanged: cb.OnStateChange,
	}, logging.Reconnect())

	return c
}

// ID returns the client instance identifier (used in logs only).
func (c *Client) ID() string {
	return c.id
}

// Start begins connecting the push channel. It returns immediately; the
// connection state is reported through OnStateChange.
func (c *Client) Start(ctx context.Context) {
	c.logger.Info("Session starting", "server", c.baseURL)
	c.ctrl.Start(ctx)
}

// SubmitMessage sends one message over whichever channel is available.
// The resolution arrives later through OnResult; an error here means the
// message was not accepted anywhere and no placeholder was created.
func (c *Client) SubmitMessage(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	ev, err := c.tr.Submit(ctx, text)
	if err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	if ev != nil {
		// Pull path: the direct response is just another inbound event.
		c.rec.Process(*ev)
	}
	return nil
}

// Status fetches the service's session and queue status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResponse, error) {
	return c.pull.Status(ctx)
}

// Projects lists the projects available on the service.
func (c *Client) Projects(ctx context.Context) ([]string, error) {
	return c.pull.Projects(ctx)
}

// ActiveProject returns the project most recently reported by the service.
func (c *Client) ActiveProject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// ConnectionState returns the push channel state.
func (c *Client) ConnectionState() reconnect.State {
	return c.ctrl.State()
}

// PendingCount returns the number of locally tracked unresolved messages.
func (c *Client) PendingCount() int {
	return c.rec.PendingCount()
}

// Watermark returns the highest resolved message identifier seen.
func (c *Client) Watermark() int64 {
	return c.rec.Watermark()
}

// Close tears the session down. This is the only place the client closes
// the push connection deliberately.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.ctrl.Close()
	err := c.tr.Close()
	c.logger.Info("Session closed")
	return err
}

// dialPush opens a new push connection and installs it. Called by the
// reconnection controller, which owns the schedule.
func (c *Client) dialPush(ctx context.Context) error {
	// The close handler blocks on ready until the connection is installed
	// AND the controller has seen the open. A drop right after dialing
	// must reach the controller as Connected->closed, never before the
	// open; otherwise the close would be swallowed and the session would
	// sit on a dead connection with no retry scheduled.
	ready := make(chan *transport.Conn, 1)

	conn, err := c.dialer.Dial(ctx, transport.PushCallbacks{
		OnEvent: c.handleEvent,
		OnClose: func(err error) {
			cn := <-ready
			c.tr.ClearConn(cn)
			c.ctrl.OnClose(err)
		},
	})
	if err != nil {
		return err
	}

	c.tr.SetConn(conn)
	c.ctrl.OnOpen()
	ready <- conn
	return nil
}

// handleEvent routes a push frame into the reconciler, updating the
// project from any event that carries one.
func (c *Client) handleEvent(ev protocol.Event) {
	if ev.CurrentProject != "" {
		c.setProject(ev.CurrentProject)
	}
	c.rec.Process(ev)
}

// pollOnce performs one pull request using the reconciler's watermark as
// the cursor. Failures are swallowed; the next tick retries.
func (c *Client) pollOnce(ctx context.Context) {
	resp, err := c.pull.Poll(ctx, c.rec.Watermark())
	if err != nil {
		c.logger.Debug("Poll failed", "error", err)
		return
	}
	if resp.CurrentProject != "" {
		c.setProject(resp.CurrentProject)
	}
	for _, ev := range resp.Updates {
		c.rec.Process(ev)
	}
}

// handleResolution renders one reconciled outcome for the subscriber.
func (c *Client) handleResolution(r reconcile.Resolution) {
	if r.Project != "" {
		c.setProject(r.Project)
	}
	if c.cb.OnResult == nil {
		return
	}

	result := Result{
		MessageID:     r.MessageID,
		Text:          r.Response,
		Error:         r.Error,
		Project:       r.Project,
		UpdatedDocs:   r.UpdatedDocs,
		UpdateDetails: r.UpdateDetails,
		Replaced:      r.Replaced,
	}
	if r.Error == "" {
		result.HTML = c.conv.ConvertToSafeHTML(r.Response)
	}
	c.cb.OnResult(result)
}

// handleQueued keeps the poller armed while a message is in flight and
// the push channel is down.
func (c *Client) handleQueued(messageID int64, pendingCount int) {
	c.logger.Debug("Message queued", "message_id", messageID, "pending_count", pendingCount)
	c.ctrl.NotifyPending()
}

// handleStatus applies the initial status event sent after a connect.
func (c *Client) handleStatus(project string, pendingCount int) {
	if project != "" {
		c.setProject(project)
	}
	if c.cb.OnPendingCount != nil {
		c.cb.OnPendingCount(pendingCount)
	}
}

// setProject updates the session's active project.
func (c *Client) setProject(project string) {
	c.mu.Lock()
	changed := c.project != project
	c.project = project
	c.mu.Unlock()

	if changed && c.cb.OnProjectChange != nil {
		c.cb.OnProjectChange(project)
	}
}
