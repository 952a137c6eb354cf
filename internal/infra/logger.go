package infra

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the service.
// levelOverride, when it names a valid zerolog level, wins over the
// environment default.
func NewLogger(appEnv, levelOverride string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).
		Level(parseLevel(appEnv, levelOverride)).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}

	return logger
}

func parseLevel(appEnv, override string) zerolog.Level {
	if override != "" {
		if lvl, err := zerolog.ParseLevel(override); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if appEnv == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	l := zerolog.Nop()
	return &l
}
