package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/hermes-ledger/internal/app/partnersync"
	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	if cfg.RabbitMQ.URL == "" {
		logger.Error("rabbitmq.url is required")
		os.Exit(1)
	}
	logger.Info("starting partner-sync", slog.String("env", cfg.Env), slog.String("queue", cfg.RabbitMQ.Queue))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := partnersync.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize partner-sync", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("partner-sync stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("partner-sync stopped gracefully")
}
