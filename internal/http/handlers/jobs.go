package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
	"matrice/internal/session"
)

type submitRequest struct {
	Config json.RawMessage `json:"config"`
	Seed   string          `json:"seed,omitempty"`
}

type jobsResponse struct {
	Jobs     []domain.Job             `json:"jobs"`
	Selected string                   `json:"selected,omitempty"`
	Counts   map[domain.JobStatus]int `json:"counts,omitempty"`
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := a.Jobs.Queue()
	a.json(w, http.StatusOK, jobsResponse{Jobs: q.List(), Selected: q.SelectedID(), Counts: q.CountByStatus()})
}

func (a *App) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	cfg := jsoncfg.Default()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid config")
			return
		}
	}
	jobs, err := a.Jobs.Submit(r.Context(), cfg, session.SubmitOptions{Seed: req.Seed})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, jobsResponse{Jobs: jobs, Selected: a.Jobs.Queue().SelectedID()})
}

func (a *App) ActiveJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Jobs.Queue().ActiveViewItem()
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "no job selected")
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Jobs.Queue().Get(chi.URLParam(r, "jobID"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) SelectJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	q := a.Jobs.Queue()
	if _, ok := q.Get(id); !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	q.Select(id)
	a.json(w, http.StatusOK, map[string]string{"selected": q.SelectedID()})
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Retry(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, job)
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Delete(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) ClearFinished(w http.ResponseWriter, r *http.Request) {
	removed := a.Jobs.Queue().ClearFinished()
	a.json(w, http.StatusOK, map[string]int{"removed": len(removed)})
}
