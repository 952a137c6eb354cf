package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) StreamState(w http.ResponseWriter, r *http.Request) {
	if a.Stream == nil {
		a.error(w, http.StatusNotFound, "not_found", "event stream not configured")
		return
	}
	a.json(w, http.StatusOK, a.Stream.Snapshot())
}
