package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"matrice/internal/domain"
	"matrice/internal/infra"
	"matrice/internal/presets"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	return &infra.Config{
		AppEnv:             "test",
		BackendURL:         "http://127.0.0.1:1/api",
		StreamURL:          "ws://127.0.0.1:1/api/ws",
		BackendTimeout:     time.Second,
		ReconnectDelay:     time.Second,
		StaleCheckInterval: time.Second,
		GenerationTimeout:  time.Minute,
		DownloadTimeout:    time.Minute,
		CompletedJobTTL:    time.Minute,
		PresetDir:          filepath.Join(dir, "presets"),
		HistoryDBPath:      filepath.Join(dir, "history.db"),
	}
}

func TestBuildWiresObservers(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), nil, Options{History: true, Metrics: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	if _, ok := a.Presets.(*presets.FileStore); !ok {
		t.Fatalf("Presets = %T, want *presets.FileStore", a.Presets)
	}

	if _, err := a.Queue.Add(domain.Job{ID: "a", TotalSteps: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	a.Queue.Complete("a", "/api/gallery/a.png")
	a.Queue.Remove("a")

	jobs, err := a.History.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("History.List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "a" {
		t.Fatalf("history = %+v", jobs)
	}

	families, err := a.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "matrice_jobs_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("matrice_jobs_transitions_total not registered")
	}
}

func TestBuildMinimal(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.History != nil || a.Registry != nil {
		t.Fatalf("optional parts built: history=%v registry=%v", a.History, a.Registry)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBuildRejectsBadBackendURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackendURL = "://nope"
	if _, err := Build(context.Background(), cfg, nil, Options{}); err == nil {
		t.Fatalf("Build succeeded with invalid backend url")
	}
}
