package stream

import (
	"errors"
	"sync"

	"matrice/internal/domain"
	"matrice/internal/infra"
	"matrice/internal/queue"
)

// DefaultErrorMessage is shown for error events that carry no message.
const DefaultErrorMessage = "An error occurred during generation"

// Dispatcher routes parsed events to queue transitions and tracks the
// backend-level state events report.
type Dispatcher struct {
	queue  *queue.Queue
	logger *infra.Logger

	mu               sync.Mutex
	backendConnected bool
	queueRemaining   int
}

// NewDispatcher binds a dispatcher to q.
func NewDispatcher(q *queue.Queue, logger *infra.Logger) *Dispatcher {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Dispatcher{queue: q, logger: logger}
}

// Apply performs the queue transition for ev. The returned error is the
// queue's verdict (not found, terminal, stale, invalid transition) and is
// informational: the event has already been dropped when it is non-nil.
func (d *Dispatcher) Apply(ev Event) error {
	var err error
	switch ev.Type {
	case EventConnectionStatus:
		d.mu.Lock()
		d.backendConnected = ev.Connected
		d.mu.Unlock()
	case EventQueueStatus:
		d.mu.Lock()
		d.queueRemaining = ev.QueueRemaining
		d.mu.Unlock()
	case EventProgress:
		_, err = d.queue.Progress(ev.JobID, ev.Step, ev.TotalSteps)
	case EventPreview:
		_, err = d.queue.Preview(ev.JobID, PreviewURL(ev.ImageBase64))
	case EventComplete:
		_, err = d.queue.Complete(ev.JobID, ev.ImageURL)
	case EventError:
		msg := ev.Message
		if msg == "" {
			msg = DefaultErrorMessage
		}
		_, err = d.queue.Fail(ev.JobID, msg, domain.FailureBackend)
	case EventLoraDownload:
		err = d.applyDownload(ev)
	}
	if err != nil {
		d.logger.Debug().
			Err(err).
			Str("type", string(ev.Type)).
			Str("job_id", ev.JobID).
			Msg("stream: event dropped by queue")
	}
	return err
}

func (d *Dispatcher) applyDownload(ev Event) error {
	var err error
	switch ev.DownloadStatus {
	case DownloadStarted:
		_, err = d.queue.DownloadStarted(ev.JobID, ev.Filename, ev.SizeLabel)
	case DownloadProgress:
		_, err = d.queue.DownloadProgress(ev.JobID, ev.Percent)
	case DownloadComplete:
		_, err = d.queue.DownloadComplete(ev.JobID)
	case DownloadFailed:
		msg := ev.DownloadError
		if msg == "" {
			msg = "Failed to download " + ev.Filename
		}
		_, err = d.queue.DownloadFailed(ev.JobID, msg)
	}
	return err
}

// BackendConnected reports the last connection_status seen.
func (d *Dispatcher) BackendConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backendConnected
}

// QueueRemaining reports the last queue_status seen.
func (d *Dispatcher) QueueRemaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueRemaining
}

func (d *Dispatcher) markDisconnected() {
	d.mu.Lock()
	d.backendConnected = false
	d.mu.Unlock()
}

// IsQueueRejection reports whether err is one of the queue's expected
// refusals rather than a fault.
func IsQueueRejection(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrTerminal) ||
		errors.Is(err, domain.ErrStaleEvent) ||
		errors.Is(err, domain.ErrInvalidTransition)
}
