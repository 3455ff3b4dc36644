package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	appcontainer "sigex/internal/application/container"
	"sigex/internal/infrastructure/config"
	infracontainer "sigex/internal/infrastructure/container"
	"sigex/internal/infrastructure/logger"
	"sigex/internal/interfaces/httpapi"
)

func main() {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := infracontainer.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure init failed")
	}
	defer infra.Close()

	app := appcontainer.New(cfg, infra.Repository(), infra.Venues(), infra.EventSink())
	eng := app.Engine()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.NewServer(eng, app.QuotaService(), app.PositionService(), infra.Repository()).Routes(),
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server exited")
			stop()
		}
	}()

	log.Info().
		Str("config", *configPath).
		Dur("interval", cfg.Interval()).
		Int("batch_size", cfg.App.BatchSize).
		Strs("venues", infra.Venues().Names()).
		Msg("sigex started")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("execution engine exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
