package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"matrice/internal/domain"
)

type fakeBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	jobs     chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{jobs: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"connected": true})
	})
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"flux1-dev.safetensors", "sdxl.safetensors"})
	})
	mux.HandleFunc("/api/samplers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"samplers": {"euler", "dpmpp_2m"}, "schedulers": {"simple"}})
	})
	mux.HandleFunc("/api/gallery/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/gallery/")
		if name == "missing.png" {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png:" + name))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			JobID string `json:"jobId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		fb.jobs <- body.JobID
		json.NewEncoder(w).Encode(map[string]string{"jobId": body.JobID})
	})
	mux.HandleFunc("/api/ws", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

// serveWS renders every submitted job in two steps and completes it.
func (fb *fakeBackend) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := fb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	conn.WriteJSON(map[string]any{"type": "connection_status", "connected": true})
	for {
		select {
		case <-closed:
			return
		case id := <-fb.jobs:
			conn.WriteJSON(map[string]any{"type": "progress", "jobId": id, "step": 1, "totalSteps": 2})
			conn.WriteJSON(map[string]any{"type": "progress", "jobId": id, "step": 2, "totalSteps": 2})
			conn.WriteJSON(map[string]any{"type": "complete", "jobId": id, "imageUrl": "/api/gallery/" + id + ".png"})
		}
	}
}

func setupEnv(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	for key, value := range map[string]string{
		"APP_ENV":         "test",
		"BACKEND_URL":     backendURL,
		"STREAM_URL":      "",
		"DATABASE_URL":    "",
		"LOG_LEVEL":       "",
		"PRESET_DIR":      filepath.Join(dir, "presets"),
		"HISTORY_DB_PATH": filepath.Join(dir, "history.db"),
	} {
		t.Setenv(key, value)
	}
	return dir
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestGenerateFollowsJobsToCompletion(t *testing.T) {
	fb := newFakeBackend(t)
	setupEnv(t, fb.srv.URL+"/api")

	out, err := runCommand(t, "generate", "--prompt", "a red fox", "--model", "flux1-dev.safetensors",
		"--seed", "5", "--batch", "2", "--timeout", "20s")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	if strings.Count(out, "/api/gallery/") < 2 {
		t.Fatalf("output missing image urls:\n%s", out)
	}
	if !strings.Contains(out, "step 1/2") || !strings.Contains(out, "Complete") {
		t.Fatalf("output missing progress:\n%s", out)
	}
	if !strings.Contains(out, " 5 ") || !strings.Contains(out, " 6 ") {
		t.Fatalf("output missing seeds 5 and 6:\n%s", out)
	}
}

func TestGenerateRejectsInvalidConfig(t *testing.T) {
	fb := newFakeBackend(t)
	setupEnv(t, fb.srv.URL+"/api")

	if _, err := runCommand(t, "generate", "--model", "m", "--timeout", "5s"); err == nil {
		t.Fatalf("generate without prompt succeeded")
	}
	if _, err := runCommand(t, "generate", "--prompt", "p", "--model", "m", "--seed", "x"); err == nil {
		t.Fatalf("generate with bad seed succeeded")
	}
}

func TestStatusCommand(t *testing.T) {
	fb := newFakeBackend(t)
	setupEnv(t, fb.srv.URL+"/api")

	out, err := runCommand(t, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[OK] connected") {
		t.Fatalf("status output:\n%s", out)
	}
}

func TestStatusCommandUnreachable(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1/api")
	out, err := runCommand(t, "status")
	if err == nil {
		t.Fatalf("status succeeded against closed port:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR]") {
		t.Fatalf("status output:\n%s", out)
	}
}

func TestBackendFlagOverridesEnv(t *testing.T) {
	fb := newFakeBackend(t)
	setupEnv(t, "http://127.0.0.1:1/api")

	out, err := runCommand(t, "--backend", fb.srv.URL+"/api", "models")
	if err != nil {
		t.Fatalf("models: %v\n%s", err, out)
	}
	if !strings.Contains(out, "flux1-dev.safetensors") {
		t.Fatalf("models output:\n%s", out)
	}
}

func TestModelsSamplers(t *testing.T) {
	fb := newFakeBackend(t)
	setupEnv(t, fb.srv.URL+"/api")

	out, err := runCommand(t, "models", "samplers")
	if err != nil {
		t.Fatalf("models samplers: %v", err)
	}
	if !strings.Contains(out, "dpmpp_2m") || !strings.Contains(out, "simple") {
		t.Fatalf("samplers output:\n%s", out)
	}
	if _, err := runCommand(t, "models", "nonsense"); err == nil {
		t.Fatalf("unknown catalog succeeded")
	}
}

func TestPresetsCommands(t *testing.T) {
	dir := setupEnv(t, "http://127.0.0.1:1/api")
	cfgPath := filepath.Join(dir, "portrait.yaml")
	os.WriteFile(cfgPath, []byte("prompt: studio portrait\nmodel: flux1-dev.safetensors\nsteps: 28\nseedInput: \"77\"\n"), 0o644)

	if out, err := runCommand(t, "presets", "save", "portrait", "--config", cfgPath); err != nil {
		t.Fatalf("save: %v\n%s", err, out)
	}
	out, err := runCommand(t, "presets", "list")
	if err != nil || !strings.Contains(out, "portrait") || !strings.Contains(out, "28") {
		t.Fatalf("list: %v\n%s", err, out)
	}
	out, err = runCommand(t, "presets", "show", "portrait")
	if err != nil || !strings.Contains(out, "prompt: studio portrait") {
		t.Fatalf("show: %v\n%s", err, out)
	}
	if strings.Contains(out, "77") {
		t.Fatalf("seed persisted:\n%s", out)
	}
	if _, err := runCommand(t, "presets", "delete", "portrait"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := runCommand(t, "presets", "show", "portrait"); err == nil {
		t.Fatalf("show after delete succeeded")
	}
}

func TestGenerateLayersPresetFileAndLoras(t *testing.T) {
	dir := setupEnv(t, "http://127.0.0.1:1/api")
	presetPath := filepath.Join(dir, "portrait.yaml")
	if err := os.WriteFile(presetPath, []byte("prompt: studio portrait\nmodel: flux1-dev.safetensors\nsteps: 28\n"), 0o644); err != nil {
		t.Fatalf("write preset config: %v", err)
	}
	if out, err := runCommand(t, "presets", "save", "portrait", "--config", presetPath); err != nil {
		t.Fatalf("save: %v\n%s", err, out)
	}
	overridePath := filepath.Join(dir, "fast.yaml")
	if err := os.WriteFile(overridePath, []byte("steps: 12\n"), 0o644); err != nil {
		t.Fatalf("write override config: %v", err)
	}

	opts := generateOptions{
		preset:     "portrait",
		configFile: overridePath,
		loras:      []string{"detail.safetensors:0.5", "grain.safetensors"},
	}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cfg, err := opts.resolve(cmd, newCommandContext())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Prompt != "studio portrait" || cfg.Model != "flux1-dev.safetensors" {
		t.Fatalf("prompt/model = %q/%q, want preset values", cfg.Prompt, cfg.Model)
	}
	if cfg.Steps != 12 {
		t.Fatalf("Steps = %d, want 12 from the config file", cfg.Steps)
	}
	if len(cfg.Loras) != 2 || cfg.Loras[0].Name != "detail.safetensors" || cfg.Loras[0].StrengthModel != 0.5 || cfg.Loras[1].Name != "grain.safetensors" {
		t.Fatalf("Loras = %#v", cfg.Loras)
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1/api")
	out, err := runCommand(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No archived jobs") {
		t.Fatalf("history output:\n%s", out)
	}
}

func TestExportCommand(t *testing.T) {
	fb := newFakeBackend(t)
	dir := setupEnv(t, fb.srv.URL+"/api")
	outPath := filepath.Join(dir, "out", "images.zip")

	out, err := runCommand(t, "export", "--out", outPath, "a.png", "b.png")
	if err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}
	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 || zr.File[0].Name != "a.png" {
		t.Fatalf("archive entries = %v", zr.File)
	}

	if _, err := runCommand(t, "export", "--out", filepath.Join(dir, "bad.zip"), "missing.png"); err == nil {
		t.Fatalf("export of missing image succeeded")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.zip")); !os.IsNotExist(err) {
		t.Fatalf("partial archive left behind: %v", err)
	}
	if _, err := runCommand(t, "export"); err == nil {
		t.Fatalf("export with nothing to do succeeded")
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status domain.JobStatus
		want   string
	}{
		{domain.JobStatusQueued, "Queued"},
		{domain.JobStatusGenerating, "Generating"},
		{domain.JobStatusError, "Error"},
	}
	for _, tc := range tests {
		if got := statusLabel(tc.status, false); got != tc.want {
			t.Fatalf("statusLabel(%s) = %q, want %q", tc.status, got, tc.want)
		}
	}
	if got := statusLabel(domain.JobStatusComplete, true); got != ansiGreen+"Complete"+ansiReset {
		t.Fatalf("colored label = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  long\nprompt here", 8); got != "a long …" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
