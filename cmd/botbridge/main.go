package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/bridge"
	"github.com/botbridge/botbridge/internal/config"
	"github.com/botbridge/botbridge/internal/dashboard"
	"github.com/botbridge/botbridge/internal/store"
)

func main() {
	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize persistence
	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() { _ = st.Close() }()

	// Wire the observer hub and the bridge core together
	hub := dashboard.NewHub(log)
	core := bridge.New(cfg, log, hub, st)
	hub.SetCore(core)

	// Start the client-facing TCP listener
	if err := core.Listen(); err != nil {
		log.Fatal().Err(err).Msg("failed to start bridge listener")
	}

	// Create the observer-facing HTTP server
	server := dashboard.New(cfg, st.DB(), log, hub, core)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		_ = core.Close()
		os.Exit(0)
	}()

	// Run server
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
