// Package main Hermes Ledger API
//
// @title           Hermes Ledger API
// @version         1.0
// @description     Баланс с чекином, покупка подписок и реферальные бонусы бирж-партнёров.

// @host      localhost:8000
// @BasePath  /api
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/hermes-ledger/internal/app/api"
	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	logger.Info("starting bss-api", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("bss-api stopped gracefully")
}
