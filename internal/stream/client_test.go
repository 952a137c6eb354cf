package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"matrice/internal/backend"
	"matrice/internal/domain"
	"matrice/internal/queue"
)

// fakeBackend serves /api/ws and /api/status. Each accepted connection is
// handed to the next script in line; the last script is reused.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	scripts     []func(conn *websocket.Conn)
	connections int

	statusCalls atomic.Int32
	connected   func(call int32) bool
}

func newFakeBackend(t *testing.T, connected func(call int32) bool, scripts ...func(conn *websocket.Conn)) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{t: t, scripts: scripts, connected: connected}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", fb.serveWS)
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		call := fb.statusCalls.Add(1)
		json.NewEncoder(w).Encode(backend.Status{Connected: fb.connected(call)})
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := fb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fb.mu.Lock()
	idx := fb.connections
	if idx >= len(fb.scripts) {
		idx = len(fb.scripts) - 1
	}
	fb.connections++
	script := fb.scripts[idx]
	fb.mu.Unlock()
	script(conn)
}

func (fb *fakeBackend) Connections() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.connections
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/api/ws"
}

func (fb *fakeBackend) statusClient(t *testing.T) *backend.Client {
	t.Helper()
	c, err := backend.NewClient(backend.Options{BaseURL: fb.srv.URL + "/api"})
	if err != nil {
		t.Fatalf("backend.NewClient: %v", err)
	}
	return c
}

func send(conn *websocket.Conn, msgs ...string) {
	for _, m := range msgs {
		conn.WriteMessage(websocket.TextMessage, []byte(m))
	}
}

// holdOpen keeps the connection until the client goes away.
func holdOpen(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func always(v bool) func(int32) bool { return func(int32) bool { return v } }

type recordingObserver struct {
	mu         sync.Mutex
	states     []State
	reconnects int
	received   map[EventType]int
	dropped    map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{received: map[EventType]int{}, dropped: map[string]int{}}
}

func (r *recordingObserver) StreamStateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recordingObserver) StreamReconnecting() {
	r.mu.Lock()
	r.reconnects++
	r.mu.Unlock()
}

func (r *recordingObserver) StreamEventReceived(t EventType) {
	r.mu.Lock()
	r.received[t]++
	r.mu.Unlock()
}

func (r *recordingObserver) StreamEventDropped(reason string) {
	r.mu.Lock()
	r.dropped[reason]++
	r.mu.Unlock()
}

func (r *recordingObserver) droppedCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(t *testing.T, fb *fakeBackend, q *queue.Queue, observers ...StateObserver) *Client {
	t.Helper()
	c, err := NewClient(Options{
		URL:            fb.wsURL(),
		Queue:          q,
		Status:         fb.statusClient(t),
		ReconnectDelay: 20 * time.Millisecond,
		Observers:      observers,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReconnectDuringActiveJobFailsIt(t *testing.T) {
	fb := newFakeBackend(t,
		func(call int32) bool { return call == 1 },
		func(conn *websocket.Conn) {
			send(conn, `{"type":"progress","jobId":"C","step":5,"totalSteps":10}`)
			time.Sleep(20 * time.Millisecond)
			conn.Close()
		},
		holdOpen,
	)
	q := queue.New(queue.Options{})
	if _, err := q.Add(domain.Job{ID: "C", TotalSteps: 10}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	obs := newRecordingObserver()
	c := newTestClient(t, fb, q, obs)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job C to fail", func() bool {
		job, _ := q.Get("C")
		return job.Status == domain.JobStatusError
	})

	job, _ := q.Get("C")
	if job.ErrorMessage != ReconcileMessage || job.FailureKind != domain.FailureConnectionLost {
		t.Fatalf("job = %+v", job)
	}
	if job.CurrentStep != 5 {
		t.Fatalf("partial progress lost: CurrentStep = %d", job.CurrentStep)
	}
	waitFor(t, "reconnected", func() bool { return c.State() == StateConnected })
	if fb.Connections() < 2 {
		t.Fatalf("connections = %d, want >= 2", fb.Connections())
	}
	obs.mu.Lock()
	reconnects := obs.reconnects
	obs.mu.Unlock()
	if reconnects < 1 {
		t.Fatalf("reconnects = %d, want >= 1", reconnects)
	}
}

func TestReconnectWithHealthyBackendKeepsJobs(t *testing.T) {
	fb := newFakeBackend(t, always(true),
		func(conn *websocket.Conn) { conn.Close() },
		holdOpen,
	)
	q := queue.New(queue.Options{})
	q.Add(domain.Job{ID: "C"})
	q.Progress("C", 1, 10)
	c := newTestClient(t, fb, q)
	c.Start(context.Background())

	waitFor(t, "second connection", func() bool { return fb.Connections() >= 2 && c.State() == StateConnected })
	if job, _ := q.Get("C"); job.Status != domain.JobStatusGenerating {
		t.Fatalf("job = %+v, want still generating", job)
	}
}

func TestMalformedMessageDoesNotBreakStream(t *testing.T) {
	fb := newFakeBackend(t, always(true), func(conn *websocket.Conn) {
		send(conn,
			`{{{garbage`,
			`{"type":"mystery"}`,
			`{"type":"complete","jobId":"A","imageUrl":"/api/gallery/a.png"}`,
		)
		conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1})
		holdOpen(conn)
	})
	q := queue.New(queue.Options{})
	q.Add(domain.Job{ID: "A"})
	obs := newRecordingObserver()
	c := newTestClient(t, fb, q, obs)
	c.Start(context.Background())

	waitFor(t, "job A complete", func() bool {
		job, _ := q.Get("A")
		return job.Status == domain.JobStatusComplete
	})
	waitFor(t, "binary drop", func() bool { return obs.droppedCount("binary") == 1 })
	if got := obs.droppedCount("malformed"); got != 1 {
		t.Fatalf("malformed drops = %d, want 1", got)
	}
	if got := obs.droppedCount("unknown"); got != 1 {
		t.Fatalf("unknown drops = %d, want 1", got)
	}
	if fb.Connections() != 1 {
		t.Fatalf("connections = %d, want 1", fb.Connections())
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	fb := newFakeBackend(t, always(true), holdOpen)
	c := newTestClient(t, fb, queue.New(queue.Options{}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	fb := newFakeBackend(t, always(true), func(conn *websocket.Conn) { conn.Close() })
	c := newTestClient(t, fb, queue.New(queue.Options{}))
	c.Start(context.Background())
	waitFor(t, "a few attempts", func() bool { return fb.Connections() >= 2 })

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State = %s, want disconnected", c.State())
	}
	time.Sleep(50 * time.Millisecond)
	after := fb.Connections()
	time.Sleep(100 * time.Millisecond)
	if fb.Connections() != after {
		t.Fatalf("client reconnected after Close: %d -> %d", after, fb.Connections())
	}
	if c.Snapshot().Reconnecting {
		t.Fatalf("Reconnecting still set after Close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	fb := newFakeBackend(t, always(true), holdOpen)
	c := newTestClient(t, fb, queue.New(queue.Options{}))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })
	cancel()
	waitFor(t, "disconnected", func() bool { return c.State() == StateDisconnected })
}

func TestDialFailureRetriesWithDelay(t *testing.T) {
	q := queue.New(queue.Options{})
	obs := newRecordingObserver()
	c, err := NewClient(Options{
		URL:            "ws://127.0.0.1:1/ws",
		Queue:          q,
		ReconnectDelay: 10 * time.Millisecond,
		Observers:      []StateObserver{obs},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.Start(context.Background())
	waitFor(t, "retries", func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.reconnects >= 3
	})
	c.Close()
	if c.State() == StateConnected {
		t.Fatalf("State = connected against an unreachable url")
	}
}

func TestSnapshotReportsBackendState(t *testing.T) {
	fb := newFakeBackend(t, always(true), func(conn *websocket.Conn) {
		send(conn, `{"type":"connection_status","connected":true}`, `{"type":"queue_status","queueRemaining":4}`)
		holdOpen(conn)
	})
	c := newTestClient(t, fb, queue.New(queue.Options{}))
	c.Start(context.Background())
	waitFor(t, "queue status", func() bool { return c.Snapshot().QueueRemaining == 4 })
	snap := c.Snapshot()
	if snap.State != "connected" || !snap.BackendConnected || snap.Reconnecting {
		t.Fatalf("snapshot = %+v", snap)
	}
}
