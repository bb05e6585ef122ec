// Package main provides the entry point for the contextd worker service.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/internal/config"
	"github.com/thebtf/contextd/internal/worker"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.contextd/contextd.yaml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", Version).
		Msg("Starting contextd worker")

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			log.Fatal().Err(err).Msg("Configuration rejected")
		}
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	svc, err := worker.NewService(Version, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create service")
	}

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start service")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("Worker shutdown complete")
}
