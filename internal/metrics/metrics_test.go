package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"matrice/internal/domain"
	"matrice/internal/queue"
	"matrice/internal/stream"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestQueueLifecycleMetrics(t *testing.T) {
	c := newTestCollector(t)
	q := queue.New(queue.Options{Observers: []queue.Observer{c}})

	q.Add(domain.Job{ID: "a", TotalSteps: 10})
	q.Add(domain.Job{ID: "b", TotalSteps: 10})
	q.Progress("a", 1, 10)
	q.Progress("a", 2, 10)
	q.Complete("a", "/api/gallery/a.png")
	q.Fail("b", "No response from server", domain.FailureSubmission)

	if got := testutil.ToFloat64(c.transitions.WithLabelValues("queued")); got != 2 {
		t.Fatalf("queued transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("generating")); got != 1 {
		t.Fatalf("generating transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.active.WithLabelValues("generating")); got != 0 {
		t.Fatalf("active generating = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.active.WithLabelValues("complete")); got != 1 {
		t.Fatalf("active complete = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("submission")); got != 1 {
		t.Fatalf("submission failures = %v, want 1", got)
	}

	q.ClearFinished()
	for _, s := range domain.AllJobStatuses {
		if got := testutil.ToFloat64(c.active.WithLabelValues(string(s))); got != 0 {
			t.Fatalf("active %s = %v after clear, want 0", s, got)
		}
	}
}

func TestStreamMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.StreamStateChanged(stream.StateConnecting)
	c.StreamStateChanged(stream.StateConnected)
	c.StreamReconnecting()
	c.StreamReconnecting()
	c.StreamEventReceived(stream.EventProgress)
	c.StreamEventDropped("malformed")

	if got := testutil.ToFloat64(c.streamState); got != 2 {
		t.Fatalf("stream state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.reconnects); got != 2 {
		t.Fatalf("reconnects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("progress")); got != 1 {
		t.Fatalf("progress events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.droppedEvents.WithLabelValues("malformed")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
}

func TestExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.StreamReconnecting()
	expected := `
# HELP matrice_stream_reconnects_total Reconnect attempts scheduled by the event stream client
# TYPE matrice_stream_reconnects_total counter
matrice_stream_reconnects_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "matrice_stream_reconnects_total"); err != nil {
		t.Fatalf("GatherAndCompare: %v", err)
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("second New succeeded, want duplicate registration error")
	}
}
