package transport

import (
	"context"
	"sync"

	"github.com/laibrary/courier/internal/protocol"
)

// Transport routes outbound messages over whichever delivery mechanism is
// available: the live push connection when one is open, otherwise a single
// best-effort request on the pull path. It holds no business state beyond
// the live connection handle.
type Transport struct {
	pull *Pull

	mu   sync.Mutex
	conn *Conn // nil while the push channel is down
}

// New creates a Transport with no live push connection.
func New(pull *Pull) *Transport {
	return &Transport{pull: pull}
}

// Pull returns the underlying pull client.
func (t *Transport) Pull() *Pull {
	return t.pull
}

// SetConn installs a newly dialed push connection, closing any previous
// one. A newer connection simply supersedes an in-flight reconnect.
func (t *Transport) SetConn(c *Conn) {
	t.mu.Lock()
	old := t.conn
	t.conn = c
	t.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}
}

// ClearConn forgets the given connection if it is still the live one.
// A close event from an already superseded connection is ignored.
func (t *Transport) ClearConn(c *Conn) {
	t.mu.Lock()
	if t.conn == c {
		t.conn = nil
	}
	t.mu.Unlock()
}

// Connected reports whether a push connection is installed.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Submit sends a message over the available channel. On the push path the
// returned event is nil and resolution arrives asynchronously; on the pull
// path the service's direct response event is returned for the caller to
// feed into the reconciler.
func (t *Transport) Submit(ctx context.Context, message string) (*protocol.Event, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		if err := conn.Submit(message); err == nil {
			return nil, nil
		}
		// The connection died under us; fall through to the pull path
		// rather than bouncing the error to the user.
	}
	return t.pull.Submit(ctx, message)
}

// Close tears down the live push connection, if any. Used on teardown
// only; mid-session closures are failures recovered by the controller.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
