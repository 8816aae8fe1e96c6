// Package protocol defines the wire types exchanged with the laibrary
// service over both delivery channels.
//
// # Protocol Overview
//
// The service exposes two channels carrying the same event vocabulary:
//   - /ws: a persistent WebSocket over which the client sends
//     {"message": string} frames and receives Event frames.
//   - /api/message (POST) and /api/poll?since=N (GET): a best-effort
//     request/response path returning a single Event or a batch of
//     Events, respectively.
//
// Every inbound frame is a flat JSON object tagged by a "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event type values, as assigned by the service.
const (
	// TypeStatus is sent once after a WebSocket connection opens and
	// carries the active project and the pending message count.
	TypeStatus = "status"

	// TypeImmediate is a synchronous response to a command that never
	// entered the queue. It carries no message identifier.
	TypeImmediate = "immediate"

	// TypeQueued acknowledges a submitted message and assigns its
	// message_id.
	TypeQueued = "queued"

	// TypeCompleted resolves a previously queued message with a response.
	TypeCompleted = "completed"

	// TypeFailed resolves a previously queued message with an error.
	TypeFailed = "failed"

	// TypeCleared confirms a history reset. All client-side delivery
	// state is discarded on receipt.
	TypeCleared = "cleared"

	// TypeError reports a service-side error not tied to a message.
	TypeError = "error"
)

// ErrUnknownEventType is returned when an inbound frame carries a type
// the client does not recognize.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is an inbound frame from either channel. Which fields are
// populated depends on Type; message_id is a monotonically increasing
// integer assigned by the service and shared across both channels.
type Event struct {
	Type           string          `json:"type"`
	MessageID      int64           `json:"message_id,omitempty"`
	Response       string          `json:"response,omitempty"`
	Error          string          `json:"error,omitempty"`
	CurrentProject string          `json:"current_project,omitempty"`
	PendingCount   int             `json:"pending_count,omitempty"`
	UpdatedDocs    bool            `json:"updated_docs,omitempty"`
	UpdateDetails  json.RawMessage `json:"update_details,omitempty"`
}

// knownTypes is the set of event types this client understands.
var knownTypes = map[string]bool{
	TypeStatus:    true,
	TypeImmediate: true,
	TypeQueued:    true,
	TypeCompleted: true,
	TypeFailed:    true,
	TypeCleared:   true,
	TypeError:     true,
}

// ParseEvent decodes a single inbound frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if !knownTypes[ev.Type] {
		return Event{}, fmt.Errorf("parse event %q: %w", ev.Type, ErrUnknownEventType)
	}
	return ev, nil
}

// IsResolution reports whether the event resolves a queued message
// (completed or failed).
func (e Event) IsResolution() bool {
	return e.Type == TypeCompleted || e.Type == TypeFailed
}

// SubmitRequest is the outbound payload for both the WebSocket frame and
// the POST /api/message body.
type SubmitRequest struct {
	Message string `json:"message"`
}

// PollResponse is the body of GET /api/poll?since=N. Updates contains
// every resolution with message_id greater than the requested watermark.
type PollResponse struct {
	Updates        []Event `json:"updates"`
	CurrentProject string  `json:"current_project,omitempty"`
	PendingCount   int     `json:"pending_count"`
}

// QueueEntry is a queued or in-flight message as reported by /api/status.
type QueueEntry struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// QueueStatus is the queue section of the /api/status response.
type QueueStatus struct {
	TotalMessages      int          `json:"total_messages"`
	QueuedMessages     []QueueEntry `json:"queued_messages"`
	ProcessingMessages []QueueEntry `json:"processing_messages"`
	CompletedCount     int          `json:"completed_count"`
	FailedCount        int          `json:"failed_count"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	CurrentProject string      `json:"current_project,omitempty"`
	HistoryLength  int         `json:"history_length"`
	Queue          QueueStatus `json:"queue"`
}

// ProjectsResponse is the body of GET /api/projects.
type ProjectsResponse struct {
	Projects []string `json:"projects"`
}
