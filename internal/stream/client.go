// Package stream consumes the backend's event stream and feeds the job
// queue. The Client keeps exactly one connection attempt in flight, waits a
// fixed delay between attempts and reconciles in-flight jobs every time a
// connection opens.
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"matrice/internal/backend"
	"matrice/internal/infra"
	"matrice/internal/queue"
)

// ErrAlreadyRunning is returned by Start on a client that is already running.
var ErrAlreadyRunning = errors.New("stream: client already running")

// ReconcileMessage is the failure text applied to in-flight jobs when the
// backend cannot vouch for them after a reconnect.
const ReconcileMessage = "Connection to backend lost; job state unknown after reconnect"

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPingInterval   = 30 * time.Second
	writeWait             = 10 * time.Second
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StatusChecker is the liveness probe used for reconciliation.
type StatusChecker interface {
	Status(ctx context.Context) (backend.Status, error)
}

// StateObserver receives connection and traffic signals, e.g. for metrics.
type StateObserver interface {
	StreamStateChanged(State)
	StreamReconnecting()
	StreamEventReceived(EventType)
	StreamEventDropped(reason string)
}

// Options configures a Client.
type Options struct {
	URL            string
	Queue          *queue.Queue
	Status         StatusChecker
	Dialer         *websocket.Dialer
	Header         http.Header
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Logger         *infra.Logger
	Observers      []StateObserver
}

// Snapshot is the externally visible connection state.
type Snapshot struct {
	State            string `json:"state"`
	Reconnecting     bool   `json:"reconnecting"`
	BackendConnected bool   `json:"backendConnected"`
	QueueRemaining   int    `json:"queueRemaining"`
}

// Client owns the event stream connection lifecycle.
type Client struct {
	url            string
	queue          *queue.Queue
	status         StatusChecker
	dialer         *websocket.Dialer
	header         http.Header
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *infra.Logger
	observers      []StateObserver
	dispatcher     *Dispatcher
	warnings       rate.Sometimes

	state        atomic.Int32
	reconnecting atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	conn    *websocket.Conn
}

// NewClient validates opts and returns an idle client.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("stream: url is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("stream: queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Client{
		url:            opts.URL,
		queue:          opts.Queue,
		status:         opts.Status,
		dialer:         dialer,
		header:         opts.Header,
		reconnectDelay: delay,
		pingInterval:   ping,
		logger:         logger,
		observers:      append([]StateObserver(nil), opts.Observers...),
		dispatcher:     NewDispatcher(opts.Queue, logger),
		warnings:       rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}, nil
}

// Start launches the connection loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Close stops the loop, closes the socket and waits for every goroutine the
// client started. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	c.closeConn()
	<-done
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Snapshot reports the connection state together with the backend-level
// state carried by events.
func (c *Client) Snapshot() Snapshot {
	return Snapshot{
		State:            c.State().String(),
		Reconnecting:     c.reconnecting.Load(),
		BackendConnected: c.dispatcher.BackendConnected(),
		QueueRemaining:   c.dispatcher.QueueRemaining(),
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := c.connectAndRead(ctx)
		c.setState(StateDisconnected)
		c.dispatcher.markDisconnected()
		if ctx.Err() != nil {
			c.reconnecting.Store(false)
			return
		}

		c.reconnecting.Store(true)
		for _, o := range c.observers {
			o.StreamReconnecting()
		}
		c.logger.Warn().Err(err).Dur("delay", c.reconnectDelay).Msg("stream: disconnected, reconnecting")

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.reconnecting.Store(false)
			return
		case <-timer.C:
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	c.closeConn()
	c.setState(StateConnecting)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.setState(StateConnected)
	c.reconnecting.Store(false)
	c.logger.Info().Str("url", c.url).Msg("stream: connected")

	c.reconcile(ctx)

	readWait := 2 * c.pingInterval
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepAlive(pingCtx, conn)
	}()
	defer func() {
		cancelPing()
		wg.Wait()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.closeConn()
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		if kind != websocket.TextMessage {
			c.dropped("binary", nil)
			continue
		}
		c.handle(data)
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("stream: ping failed")
				return
			}
		}
	}
}

// reconcile asks the backend whether it is still able to report on
// in-flight work. When it cannot, queued and generating jobs are failed:
// their events may have been lost while disconnected.
func (c *Client) reconcile(ctx context.Context) {
	if c.status == nil {
		return
	}
	st, err := c.status.Status(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil && st.Connected {
		return
	}
	failed := c.queue.FailUnfinished(ReconcileMessage)
	ev := c.logger.Warn().Int("failed_jobs", len(failed)).Bool("backend_connected", st.Connected)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("stream: reconciliation failed in-flight jobs")
}

func (c *Client) handle(data []byte) {
	ev, err := Parse(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown"
		}
		c.dropped(reason, err)
		return
	}
	for _, o := range c.observers {
		o.StreamEventReceived(ev.Type)
	}
	if err := c.dispatcher.Apply(ev); err != nil && IsQueueRejection(err) {
		for _, o := range c.observers {
			o.StreamEventDropped("unroutable")
		}
	}
}

func (c *Client) dropped(reason string, err error) {
	for _, o := range c.observers {
		o.StreamEventDropped(reason)
	}
	c.warnings.Do(func() {
		c.logger.Warn().Err(err).Str("reason", reason).Msg("stream: message dropped")
	})
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	for _, o := range c.observers {
		o.StreamStateChanged(s)
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
