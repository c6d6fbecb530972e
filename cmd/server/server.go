package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"tickmatch/internal/config"
	"tickmatch/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file (defaults to ./.env if present)")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	server.SetupLogging(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP gateway, the dispatcher and the matching engine.
	ctx, cancel := context.WithCancel(ctx)
	srv := server.Create(ctx, cancel, cfg)

	// Block on running the server.
	if err := srv.Run(); err != nil {
		log.Error().Err(err).Msg("server exited")
		stop()
		os.Exit(1)
	}
}
