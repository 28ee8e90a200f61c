package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/propensity/internal/api"
	"github.com/MikeSquared-Agency/propensity/internal/app"
	"github.com/MikeSquared-Agency/propensity/internal/config"
	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/processor"
	"github.com/MikeSquared-Agency/propensity/internal/store"
)

func main() {
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("propensity starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := app.NewEngine(cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	// Prediction log (optional)
	var recorder processor.Recorder
	var opts []api.Option
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		recorder = db
		opts = append(opts, api.WithHistory(db))
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, predictions are not logged")
	}

	// NATS (optional)
	var publisher processor.Publisher
	var natsClient *events.Client
	if cfg.NatsURL != "" {
		natsClient, err = events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, running without live turn events")
	}

	proc := processor.New(eng, publisher, recorder, slog.Default())
	opts = append(opts, api.WithEmitter(proc))

	if natsClient != nil {
		if err := natsClient.SubscribeTurns(proc.HandleTurn); err != nil {
			slog.Error("failed to subscribe to turn events", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, eng, slog.Default(), opts...)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if natsClient != nil {
		if err := natsClient.Announce(eng.Info(), cfg.Port); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("propensity ready", "port", cfg.Port, "trigger", eng.Info().Trigger)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			slog.Warn("NATS drain error", "error", err)
		}
	}
	cancel()
	slog.Info("propensity stopped")
}
