package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"matrice/internal/app"
	"matrice/internal/http/handlers"
	httpapi "matrice/internal/http/httpapi"
	"matrice/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, &logger, app.Options{History: true, Metrics: true, ProcessMetrics: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble session")
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start session")
	}

	router := httpapi.NewRouter(&handlers.App{
		Jobs:     a.Session,
		Stream:   a.Stream,
		Presets:  a.Presets,
		History:  a.History,
		Gatherer: a.Registry,
		Logger:   &logger,
	}, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("backend", cfg.BackendURL).
			Str("stream", cfg.StreamURL).
			Msg("matriced listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close session")
	}
	logger.Info().Msg("server stopped")
}
