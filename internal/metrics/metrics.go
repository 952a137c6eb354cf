// Package metrics exposes queue and stream activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"matrice/internal/domain"
	"matrice/internal/queue"
	"matrice/internal/stream"
)

// Collector turns queue changes and stream hooks into metrics.
type Collector struct {
	transitions   *prometheus.CounterVec
	active        *prometheus.GaugeVec
	failures      *prometheus.CounterVec
	streamState   prometheus.Gauge
	reconnects    prometheus.Counter
	events        *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
}

// New creates a Collector and registers it on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matrice_jobs_transitions_total",
				Help: "Job status transitions, labelled by the status entered",
			},
			[]string{"status"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "matrice_jobs_active",
				Help: "Jobs currently held by the queue, by status",
			},
			[]string{"status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matrice_jobs_failures_total",
				Help: "Jobs that ended in error, by failure kind",
			},
			[]string{"kind"},
		),
		streamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matrice_stream_state",
			Help: "Event stream state: 0 disconnected, 1 connecting, 2 connected",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matrice_stream_reconnects_total",
			Help: "Reconnect attempts scheduled by the event stream client",
		}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matrice_stream_events_total",
				Help: "Backend events received, by type",
			},
			[]string{"type"},
		),
		droppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matrice_stream_dropped_events_total",
				Help: "Backend messages discarded, by reason",
			},
			[]string{"reason"},
		),
	}

	for _, col := range []prometheus.Collector{
		c.transitions, c.active, c.failures,
		c.streamState, c.reconnects, c.events, c.droppedEvents,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	for _, s := range domain.AllJobStatuses {
		c.active.WithLabelValues(string(s)).Set(0)
	}
	return c, nil
}

// QueueChanged implements queue.Observer.
func (c *Collector) QueueChanged(ch queue.Change) {
	status := ch.Job.Status
	switch ch.Kind {
	case queue.ChangeAdded:
		c.transitions.WithLabelValues(string(status)).Inc()
		c.active.WithLabelValues(string(status)).Inc()
	case queue.ChangeUpdated:
		if ch.Previous == status {
			return
		}
		c.transitions.WithLabelValues(string(status)).Inc()
		if ch.Previous != "" {
			c.active.WithLabelValues(string(ch.Previous)).Dec()
		}
		c.active.WithLabelValues(string(status)).Inc()
		if status == domain.JobStatusError {
			kind := string(ch.Job.FailureKind)
			if kind == "" {
				kind = "unknown"
			}
			c.failures.WithLabelValues(kind).Inc()
		}
	case queue.ChangeRemoved:
		c.active.WithLabelValues(string(status)).Dec()
	}
}

// StreamStateChanged implements stream.StateObserver.
func (c *Collector) StreamStateChanged(s stream.State) {
	c.streamState.Set(float64(s))
}

func (c *Collector) StreamReconnecting() {
	c.reconnects.Inc()
}

func (c *Collector) StreamEventReceived(t stream.EventType) {
	c.events.WithLabelValues(string(t)).Inc()
}

func (c *Collector) StreamEventDropped(reason string) {
	c.droppedEvents.WithLabelValues(reason).Inc()
}

var (
	_ queue.Observer       = (*Collector)(nil)
	_ stream.StateObserver = (*Collector)(nil)
)
