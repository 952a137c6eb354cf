// Package app assembles the queue, backend client, event stream, monitor
// and stores into one running session from an infra.Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"matrice/internal/backend"
	"matrice/internal/history"
	"matrice/internal/infra"
	"matrice/internal/metrics"
	"matrice/internal/monitor"
	"matrice/internal/presets"
	"matrice/internal/queue"
	"matrice/internal/session"
	"matrice/internal/stream"
)

// Options selects the optional parts of the assembly.
type Options struct {
	History bool
	Metrics bool
	// ProcessMetrics adds the Go runtime and process collectors.
	ProcessMetrics bool
}

// App owns every long-lived component.
type App struct {
	Config   *infra.Config
	Queue    *queue.Queue
	Backend  *backend.Client
	Stream   *stream.Client
	Monitor  *monitor.Monitor
	Session  *session.Session
	Presets  presets.Store
	History  *history.Store
	Registry *prometheus.Registry

	closers []func() error
}

// Build wires the components without starting them.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = infra.NopLogger()
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var (
		queueObservers  []queue.Observer
		streamObservers []stream.StateObserver
	)
	if opts.Metrics {
		a.Registry = prometheus.NewRegistry()
		if opts.ProcessMetrics {
			a.Registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		collector, err := metrics.New(a.Registry)
		if err != nil {
			return nil, fmt.Errorf("app: metrics: %w", err)
		}
		queueObservers = append(queueObservers, collector)
		streamObservers = append(streamObservers, collector)
	}

	if opts.History {
		store, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			return nil, err
		}
		a.History = store
		a.closers = append(a.closers, store.Close)
		queueObservers = append(queueObservers, history.NewArchiver(store, logger))
	}

	store, err := a.openPresets(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Presets = store

	a.Queue = queue.New(queue.Options{Logger: logger, Observers: queueObservers})

	a.Backend, err = backend.NewClient(backend.Options{
		BaseURL: cfg.BackendURL,
		Logger:  logger,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.Stream, err = stream.NewClient(stream.Options{
		URL:            cfg.StreamURL,
		Queue:          a.Queue,
		Status:         a.Backend,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         logger,
		Observers:      streamObservers,
	})
	if err != nil {
		return nil, err
	}

	a.Monitor, err = monitor.New(monitor.Options{
		Queue:             a.Queue,
		Interval:          cfg.StaleCheckInterval,
		GenerationTimeout: cfg.GenerationTimeout,
		DownloadTimeout:   cfg.DownloadTimeout,
		CompletedTTL:      cfg.CompletedJobTTL,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	a.Session, err = session.New(session.Options{
		Queue:   a.Queue,
		Backend: a.Backend,
		Stream:  a.Stream,
		Monitor: a.Monitor,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// OpenPresets returns the preset store cfg selects: Postgres when
// DATABASE_URL is set, the preset directory otherwise. The returned close
// function releases the database pool.
func OpenPresets(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (presets.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		store, err := presets.NewFileStore(cfg.PresetDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
	if logger == nil {
		logger = infra.NopLogger()
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := presets.NewPostgresStore(infra.NewSQLRunner(pool, *logger))
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func (a *App) openPresets(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (presets.Store, error) {
	store, closeFn, err := OpenPresets(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { closeFn(); return nil })
	return store, nil
}

// Start launches the stream and the monitor.
func (a *App) Start(ctx context.Context) error {
	return a.Session.Start(ctx)
}

// Close stops the session and releases every store, last opened first.
func (a *App) Close() error {
	var errs []error
	if a.Session != nil {
		errs = append(errs, a.Session.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
