package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/app"
	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/storage"
)

func main() {
	mode := flag.String("mode", "all", "Service mode (reader, digest, all)")
	once := flag.Bool("once", false, "Run once and exit (for digest mode)")
	addChannel := flag.String("add-channel", "", "Register a channel handle and exit")
	ingestChannel := flag.String("ingest-channel", "", "Re-ingest a single channel handle and exit")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := storage.New(ctx, cfg.PostgresDSN, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	if *addChannel != "" {
		if err := application.AddChannel(ctx, *addChannel); err != nil {
			logger.Fatal().Err(err).Msg("failed to register channel")
		}

		return
	}

	if *ingestChannel != "" {
		if err := application.IngestChannel(ctx, *ingestChannel); err != nil {
			logger.Fatal().Err(err).Msg("manual ingestion failed")
		}

		return
	}

	// Start health server in background
	go func() {
		if err := application.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	if err := runMode(ctx, application, *mode, *once); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode string, once bool) error {
	switch mode {
	case "reader":
		return application.RunReader(ctx)
	case "digest":
		return application.RunDigest(ctx, once)
	case "all":
		return application.RunAll(ctx)
	default:
		log.Fatalf("Usage: %s --mode=[reader|digest|all]", os.Args[0])

		return nil
	}
}
