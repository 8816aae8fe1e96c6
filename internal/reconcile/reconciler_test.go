package reconcile

import (
	"testing"

	"github.com/laibrary/courier/internal/protocol"
)

// collector records reconciler outcomes for assertions.
type collector struct {
	resolutions []Resolution
	queued      []int64
	cleared     int
	errors      []string
}

func newCollectorReconciler() (*Reconciler, *collector) {
	c := &collector{}
	r := New(Callbacks{
		OnResolution: func(res Resolution) { c.resolutions = append(c.resolutions, res) },
		OnQueued:     func(id int64, _ int) { c.queued = append(c.queued, id) },
		OnCleared:    func() { c.cleared++ },
		OnError:      func(msg string) { c.errors = append(c.errors, msg) },
	}, nil)
	return r, c
}

func completed(id int64, response string) protocol.Event {
	return protocol.Event{Type: protocol.TypeCompleted, MessageID: id, Response: response}
}

func failed(id int64, errText string) protocol.Event {
	return protocol.Event{Type: protocol.TypeFailed, MessageID: id, Error: errText}
}

func queued(id int64) protocol.Event {
	return protocol.Event{Type: protocol.TypeQueued, MessageID: id, PendingCount: 1}
}

func TestReconciler_DedupIdempotence(t *testing.T) {
	r, c := newCollectorReconciler()

	// The same completion seen via push and poll resolves once.
	r.Process(completed(7, "answer"))
	r.Process(completed(7, "answer"))

	if got := len(c.resolutions); got != 1 {
		t.Fatalf("expected 1 resolution, got %d", got)
	}
	if !r.IsProcessed(7) {
		t.Error("message 7 should be in the processed set")
	}

	// Same for failures.
	r.Process(failed(8, "boom"))
	r.Process(failed(8, "boom"))
	if got := len(c.resolutions); got != 2 {
		t.Fatalf("expected 2 resolutions after duplicate failure, got %d", got)
	}
}

func TestReconciler_WatermarkMonotonic(t *testing.T) {
	r, _ := newCollectorReconciler()

	ids := []int64{3, 1, 7, 5, 7, 2}
	want := int64(0)
	for _, id := range ids {
		r.Process(completed(id, "x"))
		if id > want {
			want = id
		}
		if got := r.Watermark(); got != want {
			t.Fatalf("after id %d: watermark = %d, want %d", id, got, want)
		}
	}
}

func TestReconciler_PendingLifecycle(t *testing.T) {
	r, c := newCollectorReconciler()

	r.Process(queued(7))
	if r.PendingCount() != 1 {
		t.Fatalf("pending count = %d, want 1", r.PendingCount())
	}

	r.Process(completed(7, "done"))
	if r.PendingCount() != 0 {
		t.Fatalf("pending count after resolution = %d, want 0", r.PendingCount())
	}
	if len(c.resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(c.resolutions))
	}
	res := c.resolutions[0]
	if res.Response != "done" {
		t.Errorf("resolution text = %q, want %q", res.Response, "done")
	}
	if !res.Replaced {
		t.Error("resolution should replace the pending placeholder")
	}
}

func TestReconciler_ResolutionWithoutQueueSighting(t *testing.T) {
	r, c := newCollectorReconciler()

	// Client reloaded mid-flight: completion arrives with no prior
	// queued event.
	r.Process(completed(9, "late"))

	if len(c.resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(c.resolutions))
	}
	if c.resolutions[0].Replaced {
		t.Error("resolution without a pending entry must append, not replace")
	}
	if !r.IsProcessed(9) {
		t.Error("message 9 should be in the processed set")
	}
}

func TestReconciler_ClearSemantics(t *testing.T) {
	r, c := newCollectorReconciler()

	r.Process(queued(1))
	r.Process(completed(1, "a"))
	r.Process(completed(2, "b"))
	r.Process(queued(3))

	r.Process(protocol.Event{Type: protocol.TypeCleared})

	if c.cleared != 1 {
		t.Fatalf("cleared callbacks = %d, want 1", c.cleared)
	}
	if r.Watermark() != 0 {
		t.Errorf("watermark after clear = %d, want 0", r.Watermark())
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending count after clear = %d, want 0", r.PendingCount())
	}

	// A message_id from the prior session is now treated as new.
	r.Process(completed(1, "again"))
	if got := len(c.resolutions); got != 3 {
		t.Fatalf("expected a repeated id to resolve after clear, got %d resolutions", got)
	}
	if r.Watermark() != 1 {
		t.Errorf("watermark = %d, want 1", r.Watermark())
	}
}

func TestReconciler_ImmediateAlwaysRendered(t *testing.T) {
	r, c := newCollectorReconciler()

	r.Process(protocol.Event{Type: protocol.TypeImmediate, Response: "pong"})
	r.Process(protocol.Event{Type: protocol.TypeImmediate, Response: "pong"})

	if got := len(c.resolutions); got != 2 {
		t.Fatalf("immediate responses are never deduped: got %d resolutions, want 2", got)
	}
	if c.resolutions[0].MessageID != 0 {
		t.Error("immediate responses carry no message id")
	}
	if r.Watermark() != 0 {
		t.Error("immediate responses must not advance the watermark")
	}
}

func TestReconciler_ErrorEvent(t *testing.T) {
	r, c := newCollectorReconciler()

	r.Process(protocol.Event{Type: protocol.TypeError, Error: "busy"})

	if len(c.errors) != 1 || c.errors[0] != "busy" {
		t.Fatalf("errors = %v, want [busy]", c.errors)
	}
	if len(c.resolutions) != 0 {
		t.Error("error events must not produce resolutions")
	}
}
