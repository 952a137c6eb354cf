package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
	"matrice/internal/infra"
	"matrice/internal/presets"
	"matrice/internal/queue"
	"matrice/internal/session"
	"matrice/internal/stream"
)

// JobService is the part of session.Session the API drives.
type JobService interface {
	Submit(ctx context.Context, cfg jsoncfg.GenerationConfig, opts session.SubmitOptions) ([]domain.Job, error)
	Retry(ctx context.Context, id string) (domain.Job, error)
	Delete(ctx context.Context, id string) (domain.Job, error)
	Queue() *queue.Queue
}

// StreamStatus reports the event stream connection.
type StreamStatus interface {
	Snapshot() stream.Snapshot
}

// App holds every dependency a handler may need. Presets, History and
// Gatherer are optional; their routes answer 404 when unset.
type App struct {
	Jobs     JobService
	Stream   StreamStatus
	Presets  presets.Store
	History  domain.JobArchive
	Gatherer prometheus.Gatherer
	Logger   *infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// fail maps a domain error onto a status code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, presets.ErrInvalidName):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNotRetryable), errors.Is(err, domain.ErrDuplicateJob):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.requestLogger(r).Error().Err(err).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// requestLogger prefers the request-scoped logger set by the request id
// middleware.
func (a *App) requestLogger(r *http.Request) *infra.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}
