package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"matrice/internal/backend"
	"matrice/internal/infra"
)

type commandContext struct {
	backendFlag string
	noColor     bool
	verbose     bool

	configOnce sync.Once
	config     *infra.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()
		cfg, err := infra.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		if flag := strings.TrimRight(strings.TrimSpace(c.backendFlag), "/"); flag != "" {
			u, err := url.Parse(flag)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				c.configErr = fmt.Errorf("--backend must be an absolute http(s) url, got %q", c.backendFlag)
				return
			}
			cfg.BackendURL = flag
			if os.Getenv("STREAM_URL") == "" {
				cfg.StreamURL = infra.DeriveStreamURL(u)
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger is quiet unless --verbose; the CLI reports through its own output.
func (c *commandContext) logger() *infra.Logger {
	if !c.verbose {
		return infra.NopLogger()
	}
	cfg, _ := c.ensureConfig()
	appEnv, level := "development", "debug"
	if cfg != nil {
		appEnv = cfg.AppEnv
		if cfg.LogLevel != "" {
			level = cfg.LogLevel
		}
	}
	l := infra.NewLogger(appEnv, level).Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !isatty.IsTerminal(os.Stderr.Fd())})
	return &l
}

func (c *commandContext) backendClient() (*backend.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return backend.NewClient(backend.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Logger:  c.logger(),
	})
}

func (c *commandContext) colorize(w io.Writer) bool {
	if c.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
