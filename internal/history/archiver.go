package history

import (
	"context"
	"time"

	"matrice/internal/domain"
	"matrice/internal/infra"
	"matrice/internal/queue"
)

const recordTimeout = 5 * time.Second

// Archiver copies every terminal job the queue removes into an archive.
type Archiver struct {
	archive domain.JobArchive
	logger  *infra.Logger
}

// NewArchiver returns an Archiver that writes to archive.
func NewArchiver(archive domain.JobArchive, logger *infra.Logger) *Archiver {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Archiver{archive: archive, logger: logger}
}

// QueueChanged implements queue.Observer.
func (a *Archiver) QueueChanged(c queue.Change) {
	if c.Kind != queue.ChangeRemoved || !c.Job.Status.IsTerminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := a.archive.Record(ctx, c.Job); err != nil {
		a.logger.Warn().Err(err).Str("job_id", c.Job.ID).Msg("history: archive failed")
		return
	}
	a.logger.Debug().Str("job_id", c.Job.ID).Str("reason", string(c.Reason)).Msg("history: job archived")
}

var _ queue.Observer = (*Archiver)(nil)
