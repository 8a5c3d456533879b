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

	"github.com/pitchlens/pitchlens/internal/app"
	"github.com/pitchlens/pitchlens/internal/platform/config"
	db "github.com/pitchlens/pitchlens/internal/storage"
)

func main() {
	mode := flag.String("mode", "serve", "Service mode (serve, analyze, templates, reset)")
	user := flag.String("user", "", "User id (for analyze, templates, reset modes)")
	name := flag.String("name", "", "User display name for sender matching (defaults to user id)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.PostgresDSN, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	// Start health server in background
	go func() {
		if err := application.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	if err := runMode(ctx, application, *mode, *user, *name); err != nil {
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

func runMode(ctx context.Context, application *app.App, mode, user, name string) error {
	if name == "" {
		name = user
	}

	switch mode {
	case "serve":
		return application.RunServer(ctx)
	case "analyze":
		requireUser(user)

		return application.RunAnalysis(ctx, user, name)
	case "templates":
		requireUser(user)

		return application.RunTemplates(ctx, user, name)
	case "reset":
		requireUser(user)

		return application.RunReset(ctx, user)
	default:
		log.Fatalf("Usage: %s --mode=[serve|analyze|templates|reset]", os.Args[0])

		return nil
	}
}

func requireUser(user string) {
	if user == "" {
		log.Fatal("--user is required for this mode")
	}
}
