// Package reconcile merges inbound events from both delivery channels into
// a single, exactly-once stream of rendered results.
//
// The same resolution may be observed twice: once over the push channel and
// once from a poll response issued during a failover window. The reconciler
// keys every resolution on the service-assigned message_id, so the second
// sighting is a no-op regardless of which channel delivered first.
package reconcile

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laibrary/courier/internal/protocol"
)

// Resolution is one rendered outcome handed to the subscriber.
type Resolution struct {
	// MessageID is zero for immediate responses, which never enter the
	// queue and carry no identifier.
	MessageID int64
	// Response is the service's response text (markdown).
	Response string
	// Error is non-empty when the message failed remotely. Failed
	// messages are not retried; the user must resubmit.
	Error string
	// Project is the active project reported with the resolution, if any.
	Project string
	// UpdatedDocs reports whether the service modified project documents.
	UpdatedDocs bool
	// UpdateDetails carries service-specific detail about the update.
	UpdateDetails json.RawMessage
	// Replaced is true when a pending placeholder existed for this
	// message and was resolved in place; false when the resolution was
	// observed without a prior queued sighting.
	Replaced bool
}

// Callbacks receive reconciler outcomes. All callbacks are optional and are
// invoked synchronously, in event arrival order.
type Callbacks struct {
	// OnResolution is called exactly once per resolved message and once
	// per immediate response.
	OnResolution func(Resolution)
	// OnQueued is called when the service acknowledges a submission.
	OnQueued func(messageID int64, pendingCount int)
	// OnPendingCount is called whenever the number of locally tracked
	// pending messages changes.
	OnPendingCount func(count int)
	// OnStatus is called for status events.
	OnStatus func(project string, pendingCount int)
	// OnCleared is called when the service confirms a history reset.
	OnCleared func()
	// OnError is called for service error events not tied to a message.
	OnError func(message string)
}

// pendingEntry tracks a submitted message awaiting resolution.
type pendingEntry struct {
	queuedAt time.Time
}

// Reconciler is the single authoritative sink for inbound events. Process
// serializes all callers, so resolution is race-free even when the push
// channel and the poller discover the same message concurrently.
type Reconciler struct {
	mu        sync.Mutex
	pending   map[int64]pendingEntry
	processed map[int64]struct{}

	// watermark and pendingCount mirror state owned by mu. They are
	// atomics so the reconnection controller can read them from inside
	// its own critical section without taking mu; callbacks fired under
	// mu may call back into the controller, and taking mu there would
	// invert the lock order.
	watermark    atomic.Int64
	pendingCount atomic.Int64

	cb     Callbacks
	logger *slog.Logger
}

// New creates a Reconciler delivering outcomes to cb.
func New(cb Callbacks, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		pending:   make(map[int64]pendingEntry),
		processed: make(map[int64]struct{}),
		cb:        cb,
		logger:    logger,
	}
}

// Process consumes one inbound event, regardless of origin channel.
func (r *Reconciler) Process(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case protocol.TypeStatus:
		if r.cb.OnStatus != nil {
			r.cb.OnStatus(ev.CurrentProject, ev.PendingCount)
		}

	case protocol.TypeQueued:
		r.pending[ev.MessageID] = pendingEntry{queuedAt: time.Now()}
		if r.cb.OnQueued != nil {
			r.cb.OnQueued(ev.MessageID, ev.PendingCount)
		}
		r.notifyPendingCount()

	case protocol.TypeCompleted, protocol.TypeFailed:
		r.resolve(ev)

	case protocol.TypeImmediate:
		// Immediate responses are synchronous completions of commands
		// that never entered the queue; there is nothing to dedup.
		if r.cb.OnResolution != nil {
			r.cb.OnResolution(Resolution{
				Response:      ev.Response,
				Project:       ev.CurrentProject,
				UpdatedDocs:   ev.UpdatedDocs,
				UpdateDetails: ev.UpdateDetails,
			})
		}

	case protocol.TypeCleared:
		r.clear()

	case protocol.TypeError:
		if r.cb.OnError != nil {
			r.cb.OnError(ev.Error)
		}

	default:
		if r.logger != nil {
			r.logger.Warn("Dropping event of unknown type", "type", ev.Type)
		}
	}
}

// resolve handles a completed or failed event. Duplicate arrivals are
// silently absorbed; this is what makes poll/push overlap safe.
func (r *Reconciler) resolve(ev protocol.Event) {
	if _, done := r.processed[ev.MessageID]; done {
		if r.logger != nil {
			r.logger.Debug("Ignoring duplicate resolution",
				"message_id", ev.MessageID, "type", ev.Type)
		}
		return
	}
	r.processed[ev.MessageID] = struct{}{}
	if ev.MessageID > r.watermark.Load() {
		r.watermark.Store(ev.MessageID)
	}

	_, replaced := r.pending[ev.MessageID]
	delete(r.pending, ev.MessageID)

	if r.cb.OnResolution != nil {
		r.cb.OnResolution(Resolution{
			MessageID:     ev.MessageID,
			Response:      ev.Response,
			Error:         ev.Error,
			Project:       ev.CurrentProject,
			UpdatedDocs:   ev.UpdatedDocs,
			UpdateDetails: ev.UpdateDetails,
			Replaced:      replaced,
		})
	}
	r.notifyPendingCount()
}

// clear resets all delivery state. This is the only transition that may
// shrink the processed set or move the watermark backwards; a message_id
// repeated after a clear is treated as new.
func (r *Reconciler) clear() {
	r.pending = make(map[int64]pendingEntry)
	r.processed = make(map[int64]struct{})
	r.watermark.Store(0)

	if r.cb.OnCleared != nil {
		r.cb.OnCleared()
	}
	r.notifyPendingCount()
}

// notifyPendingCount is called with r.mu held.
func (r *Reconciler) notifyPendingCount() {
	r.pendingCount.Store(int64(len(r.pending)))
	if r.cb.OnPendingCount != nil {
		r.cb.OnPendingCount(len(r.pending))
	}
}

// Watermark returns the highest resolved message_id seen, used as the
// polling cursor so the pull channel never re-fetches seen results.
func (r *Reconciler) Watermark() int64 {
	return r.watermark.Load()
}

// PendingCount returns the number of submitted-but-unresolved messages.
func (r *Reconciler) PendingCount() int {
	return int(r.pendingCount.Load())
}

// HasPending reports whether any message is awaiting resolution.
func (r *Reconciler) HasPending() bool {
	return r.PendingCount() > 0
}

// IsProcessed reports whether the given message_id has already been
// resolved to the subscriber.
func (r *Reconciler) IsProcessed(messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[messageID]
	return ok
}
