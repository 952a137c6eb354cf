package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	BackendURL     string
	StreamURL      string
	BackendTimeout time.Duration

	ReconnectDelay     time.Duration
	StaleCheckInterval time.Duration
	GenerationTimeout  time.Duration
	DownloadTimeout    time.Duration
	CompletedJobTTL    time.Duration

	PresetDir     string
	DatabaseURL   string
	HistoryDBPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8090"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", "http://127.0.0.1:3001/api"), "/"),
		StreamURL:          os.Getenv("STREAM_URL"),
		BackendTimeout:     time.Second * time.Duration(env.int("BACKEND_TIMEOUT_SECONDS", 30)),
		ReconnectDelay:     time.Millisecond * time.Duration(env.int("RECONNECT_DELAY_MS", 3000)),
		StaleCheckInterval: time.Second * time.Duration(env.int("STALE_CHECK_INTERVAL_SECONDS", 30)),
		GenerationTimeout:  time.Second * time.Duration(env.int("GENERATION_TIMEOUT_SECONDS", 600)),
		DownloadTimeout:    time.Second * time.Duration(env.int("DOWNLOAD_TIMEOUT_SECONDS", 300)),
		CompletedJobTTL:    time.Second * time.Duration(env.int("COMPLETED_JOB_TTL_SECONDS", 1800)),
		PresetDir:          getEnv("PRESET_DIR", "./data/presets"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HistoryDBPath:      getEnv("HISTORY_DB_PATH", "./data/history.db"),
		HTTPReadTimeout:    time.Second * time.Duration(env.int("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(env.int("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(env.int("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    env.int("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BackendURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("BACKEND_URL must be an absolute http(s) url, got %q", cfg.BackendURL)
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = DeriveStreamURL(base)
	} else if u, err := url.Parse(cfg.StreamURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("STREAM_URL must be a ws(s) url, got %q", cfg.StreamURL)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"BACKEND_TIMEOUT_SECONDS", cfg.BackendTimeout},
		{"RECONNECT_DELAY_MS", cfg.ReconnectDelay},
		{"STALE_CHECK_INTERVAL_SECONDS", cfg.StaleCheckInterval},
		{"GENERATION_TIMEOUT_SECONDS", cfg.GenerationTimeout},
		{"DOWNLOAD_TIMEOUT_SECONDS", cfg.DownloadTimeout},
		{"COMPLETED_JOB_TTL_SECONDS", cfg.CompletedJobTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.name)
		}
	}

	if cfg.RateLimitPerMin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return cfg, nil
}

// DeriveStreamURL switches the backend scheme to ws or wss and appends /ws.
func DeriveStreamURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader collects parse errors so LoadConfig can report every bad
// variable at once.
type envReader struct {
	errs []error
}

func (e *envReader) int(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return fallback
	}
	return i
}
