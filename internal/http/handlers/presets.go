package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"matrice/internal/domain/jsoncfg"
	"matrice/internal/presets"
)

func (a *App) presetsEnabled(w http.ResponseWriter) bool {
	if a.Presets == nil {
		a.error(w, http.StatusNotFound, "not_found", "presets not configured")
		return false
	}
	return true
}

func (a *App) ListPresets(w http.ResponseWriter, r *http.Request) {
	if !a.presetsEnabled(w) {
		return
	}
	list, err := a.Presets.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"presets": list})
}

func (a *App) GetPreset(w http.ResponseWriter, r *http.Request) {
	if !a.presetsEnabled(w) {
		return
	}
	p, err := a.Presets.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, p)
}

// PutPreset stores the body, a full or partial generation config, under
// the path name. Missing fields take their defaults.
func (a *App) PutPreset(w http.ResponseWriter, r *http.Request) {
	if !a.presetsEnabled(w) {
		return
	}
	cfg := jsoncfg.Default()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid config")
		return
	}
	cfg.Normalize()
	saved, err := a.Presets.Save(r.Context(), presets.FromConfig(chi.URLParam(r, "name"), cfg))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, saved)
}

func (a *App) DeletePreset(w http.ResponseWriter, r *http.Request) {
	if !a.presetsEnabled(w) {
		return
	}
	if err := a.Presets.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
