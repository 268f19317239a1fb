package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/baechuer/urlmeta/internal/bootstrap"
	"github.com/baechuer/urlmeta/internal/config"
	"github.com/baechuer/urlmeta/internal/logger"
)

func main() {
	logger.Init()
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap.NewWorkerApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	defer cleanup()

	if err := app.Start(ctx); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		return
	}
	log.Info().Msg("worker stopped")
}
