// Package transport owns the two delivery channels to the laibrary
// service: the persistent WebSocket push connection and the best-effort
// pull path. At most one push connection is live at a time; the Transport
// facade routes outbound messages over whichever channel is available.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/laibrary/courier/internal/protocol"
)

// PushPath is the WebSocket upgrade path on the service.
const PushPath = "/ws"

// ErrConnClosed is returned when submitting on a closed push connection.
var ErrConnClosed = errors.New("push connection closed")

// PushCallbacks receive push connection lifecycle events and inbound
// frames. All callbacks are optional; nil callbacks are ignored.
type PushCallbacks struct {
	// OnOpen is called once the connection is established, before any
	// event is delivered.
	OnOpen func()

	// OnEvent is called for every inbound frame, in arrival order.
	OnEvent func(protocol.Event)

	// OnClose is called exactly once when the connection drops, with the
	// read error that ended it. It is not called after a local Close.
	OnClose func(err error)
}

// Dialer opens push connections to a fixed service endpoint.
type Dialer struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewDialer creates a Dialer for the given base HTTP URL.
func NewDialer(baseURL string, logger *slog.Logger) *Dialer {
	return &Dialer{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Dial opens a push connection and starts its read loop. The returned
// Conn delivers frames to cb until it drops or is closed.
func (d *Dialer) Dial(ctx context.Context, cb PushCallbacks) (*Conn, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = PushPath

	wsConn, _, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("push connect: %w", err)
	}

	c := &Conn{
		conn:      wsConn,
		callbacks: cb,
		logger:    d.logger,
	}

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go c.readLoop()

	return c, nil
}

// Conn is one live push connection. It is safe for concurrent use.
type Conn struct {
	conn      *websocket.Conn
	callbacks PushCallbacks
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Submit sends a message frame and returns without waiting for
// acknowledgment; resolution arrives asynchronously as inbound events.
func (c *Conn) Submit(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if err := c.conn.WriteJSON(protocol.SubmitRequest{Message: message}); err != nil {
		return fmt.Errorf("push submit: %w", err)
	}
	return nil
}

// Close tears the connection down. The read loop exits without reporting
// a failure.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

// isClosed reports whether Close was called locally.
func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop reads frames until the connection drops. Any read error on a
// connection we did not close ourselves is a failure reported upward.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			if c.callbacks.OnClose != nil {
				c.callbacks.OnClose(err)
			}
			return
		}

		ev, err := protocol.ParseEvent(data)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("Dropping unparseable push frame", "error", err)
			}
			continue
		}
		if c.callbacks.OnEvent != nil {
			c.callbacks.OnEvent(ev)
		}
	}
}
