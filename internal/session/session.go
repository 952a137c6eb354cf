// Package session wires one client session together: it owns the submit,
// retry and delete flows and the lifetime of the stream and monitor.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"matrice/internal/backend"
	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
	"matrice/internal/infra"
	"matrice/internal/payload"
	"matrice/internal/queue"
)

// Backend is the subset of the backend client a session calls.
type Backend interface {
	Generate(ctx context.Context, body []byte) (backend.GenerateResponse, error)
	DeleteGalleryImage(ctx context.Context, filename string) error
}

// Runner is a background component with a scoped lifetime.
type Runner interface {
	Start(ctx context.Context) error
	Close() error
}

// Options configures a Session. Stream and Monitor are optional so the
// submit flow can be used on its own.
type Options struct {
	Queue   *queue.Queue
	Backend Backend
	Stream  Runner
	Monitor Runner
	Logger  *infra.Logger
	Rand    *rand.Rand
	NewID   func() string
}

// SubmitOptions tweaks a single submission.
type SubmitOptions struct {
	// Seed overrides the config's SeedInput when non-empty.
	Seed string
}

// Session is safe for concurrent use.
type Session struct {
	queue   *queue.Queue
	backend Backend
	stream  Runner
	monitor Runner
	logger  *infra.Logger
	newID   func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New validates opts and returns a session.
func New(opts Options) (*Session, error) {
	if opts.Queue == nil {
		return nil, errors.New("session: queue is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Session{
		queue:   opts.Queue,
		backend: opts.Backend,
		stream:  opts.Stream,
		monitor: opts.Monitor,
		logger:  logger,
		newID:   newID,
		rnd:     rnd,
	}, nil
}

// Queue exposes the session's job queue for reads and selection.
func (s *Session) Queue() *queue.Queue {
	return s.queue
}

// Start launches the stream and the monitor.
func (s *Session) Start(ctx context.Context) error {
	if s.stream != nil {
		if err := s.stream.Start(ctx); err != nil {
			return fmt.Errorf("session: start stream: %w", err)
		}
	}
	if s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			if s.stream != nil {
				s.stream.Close()
			}
			return fmt.Errorf("session: start monitor: %w", err)
		}
	}
	return nil
}

// Close stops the stream and the monitor. In-flight submissions keep their
// own contexts.
func (s *Session) Close() error {
	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
	}
	if s.monitor != nil {
		errs = append(errs, s.monitor.Close())
	}
	return errors.Join(errs...)
}

// Submit enqueues one job per batch entry and posts each to the backend. A
// job whose submission fails stays in the queue in the error state. The
// returned jobs reflect the queue after every post has been attempted.
func (s *Session) Submit(ctx context.Context, cfg jsoncfg.GenerationConfig, opts SubmitOptions) ([]domain.Job, error) {
	cfg = cfg.Clone()
	cfg.Normalize()
	if opts.Seed != "" {
		cfg.SeedInput = opts.Seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	s.rndMu.Lock()
	base, fixed := payload.ResolveSeed(cfg.SeedInput, s.rnd)
	seeds := payload.BatchSeeds(base, cfg.BatchSize, cfg.BatchSeedMode, s.rnd)
	s.rndMu.Unlock()

	// The batch is fanned out client side; each request renders one image.
	single := cfg
	single.BatchSize = 1

	ids := make([]string, 0, len(seeds))
	for i, seed := range seeds {
		req := payload.Build(single, seed)
		req.JobID = s.newID()
		job, err := s.enqueue(req, i)
		if err != nil {
			return s.collect(ids), err
		}
		ids = append(ids, job.ID)
		s.post(ctx, job)
	}
	s.log(ctx).Info().
		Int("jobs", len(ids)).
		Int64("seed", base).
		Bool("fixed_seed", fixed).
		Msg("session: batch submitted")
	return s.collect(ids), nil
}

// Retry resubmits a failed job's exact payload under a new id. The failed
// job is left untouched.
func (s *Session) Retry(ctx context.Context, id string) (domain.Job, error) {
	failed, ok := s.queue.Get(id)
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if failed.Status != domain.JobStatusError || len(failed.Payload) == 0 {
		return domain.Job{}, domain.ErrNotRetryable
	}
	var req payload.Request
	if err := json.Unmarshal(failed.Payload, &req); err != nil {
		return domain.Job{}, fmt.Errorf("session: decode stored payload: %w", err)
	}
	req.JobID = s.newID()
	job, err := s.enqueue(req, failed.BatchIndex)
	if err != nil {
		return domain.Job{}, err
	}
	s.log(ctx).Info().Str("job_id", job.ID).Str("retry_of", id).Msg("session: retry submitted")
	s.post(ctx, job)
	out, _ := s.queue.Get(job.ID)
	return out, nil
}

// Delete removes a job locally, then asks the backend to delete its image.
// A backend failure is logged and does not undo the local removal.
func (s *Session) Delete(ctx context.Context, id string) (domain.Job, error) {
	removed, err := s.queue.Remove(id)
	if err != nil {
		return domain.Job{}, err
	}
	if name := GalleryFilename(removed.URL); name != "" {
		if err := s.backend.DeleteGalleryImage(ctx, name); err != nil {
			s.log(ctx).Warn().Err(err).Str("job_id", id).Str("filename", name).Msg("session: gallery delete failed")
		}
	}
	return removed, nil
}

// GalleryFilename extracts the gallery file name from an image URL such as
// /api/gallery/ComfyUI_00001_.png.
func GalleryFilename(imageURL string) string {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return ""
	}
	if i := strings.IndexAny(imageURL, "?#"); i >= 0 {
		imageURL = imageURL[:i]
	}
	name := path.Base(imageURL)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func (s *Session) enqueue(req payload.Request, batchIndex int) (domain.Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("session: encode payload: %w", err)
	}
	job, err := s.queue.Add(domain.Job{
		ID:         req.JobID,
		Seed:       req.Seed,
		BatchIndex: batchIndex,
		TotalSteps: req.Steps,
		Params:     payload.Snapshot(req),
		Payload:    body,
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("session: enqueue: %w", err)
	}
	return job, nil
}

func (s *Session) post(ctx context.Context, job domain.Job) {
	if _, err := s.backend.Generate(ctx, job.Payload); err != nil {
		msg := backend.FailureMessage(err)
		s.log(ctx).Warn().Err(err).Str("job_id", job.ID).Msg("session: submission failed")
		if _, ferr := s.queue.Fail(job.ID, msg, domain.FailureSubmission); ferr != nil {
			s.log(ctx).Debug().Err(ferr).Str("job_id", job.ID).Msg("session: job already settled")
		}
	}
}

// log returns the request-scoped logger carried by ctx, if any, so lines
// from one API call share its request_id.
func (s *Session) log(ctx context.Context) *infra.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.logger
}

func (s *Session) collect(ids []string) []domain.Job {
	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.queue.Get(id); ok {
			out = append(out, job)
		}
	}
	return out
}
