// Package monitor force-fails jobs the backend has stopped reporting on and
// evicts finished jobs after their retention window.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"matrice/internal/domain"
	"matrice/internal/infra"
	"matrice/internal/queue"
)

const (
	DefaultInterval          = 30 * time.Second
	DefaultGenerationTimeout = 10 * time.Minute
	DefaultDownloadTimeout   = 5 * time.Minute
	DefaultCompletedTTL      = 30 * time.Minute
)

// ErrAlreadyRunning is returned by Start on a running monitor.
var ErrAlreadyRunning = errors.New("monitor: already running")

// Options configures a Monitor. Zero durations take the defaults.
type Options struct {
	Queue             *queue.Queue
	Interval          time.Duration
	GenerationTimeout time.Duration
	DownloadTimeout   time.Duration
	CompletedTTL      time.Duration
	Logger            *infra.Logger
}

// SweepResult lists what one sweep changed.
type SweepResult struct {
	TimedOut []domain.Job
	Evicted  []domain.Job
}

// Monitor runs periodic sweeps over a queue.
type Monitor struct {
	queue  *queue.Queue
	expiry queue.Expiry
	ttl    time.Duration
	every  time.Duration
	logger *infra.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates opts and returns an idle monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Queue == nil {
		return nil, errors.New("monitor: queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	gen := orDefault(opts.GenerationTimeout, DefaultGenerationTimeout)
	dl := orDefault(opts.DownloadTimeout, DefaultDownloadTimeout)
	return &Monitor{
		queue: opts.Queue,
		expiry: queue.Expiry{
			GenerationTimeout: gen,
			GenerationMessage: GenerationTimeoutMessage(gen),
			DownloadTimeout:   dl,
			DownloadMessage:   DownloadTimeoutMessage(dl),
		},
		ttl:    orDefault(opts.CompletedTTL, DefaultCompletedTTL),
		every:  orDefault(opts.Interval, DefaultInterval),
		logger: logger,
	}, nil
}

// GenerationTimeoutMessage is the failure text for a job that received no
// events within d.
func GenerationTimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Generation timed out after %s without a response from the backend (backend may be unresponsive)", d)
}

// DownloadTimeoutMessage is the failure text for a dependency download that
// did not finish within d.
func DownloadTimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Model download timed out after %s (backend may be unresponsive)", d)
}

// Sweep force-fails overdue jobs, then evicts terminal jobs past their TTL.
// A job failed by this sweep is never evicted by it.
func (m *Monitor) Sweep() SweepResult {
	res := SweepResult{
		TimedOut: m.queue.ExpireOverdue(m.expiry),
		Evicted:  m.queue.CleanupStale(m.ttl),
	}
	if len(res.TimedOut) > 0 || len(res.Evicted) > 0 {
		m.logger.Info().
			Int("timed_out", len(res.TimedOut)).
			Int("evicted", len(res.Evicted)).
			Msg("monitor: sweep")
	}
	return res
}

// Start runs Sweep every interval until ctx ends or Close is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	return nil
}

// Close stops the ticker and waits for the loop to exit.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
