// Package partnersync собирает потребителя очереди, который доставляет продления
// подписок в сервисы кеша партнёров.
package partnersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/metrics"
	"github.com/magabrotheeeer/hermes-ledger/internal/partnercache"
	"github.com/magabrotheeeer/hermes-ledger/internal/rabbitmq"
	syncservice "github.com/magabrotheeeer/hermes-ledger/internal/services/partnersync"
)

// App потребитель событий продления.
type App struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	workers int
	service *syncservice.Service
	metrics *http.Server
	logger  *slog.Logger
}

// New подключается к брокеру и объявляет топологию.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.partnersync.New"

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.Topology{
		Exchange:   cfg.RabbitMQ.Exchange,
		Queue:      cfg.RabbitMQ.Queue,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		Prefetch:   cfg.RabbitMQ.Workers,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New(nil)
	client := partnercache.New(logger, cfg.PartnerCache, nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &App{
		conn:    conn,
		ch:      ch,
		queue:   cfg.RabbitMQ.Queue,
		workers: cfg.RabbitMQ.Workers,
		service: syncservice.New(logger, client, m),
		metrics: &http.Server{
			Addr:              cfg.HTTPServer.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.HTTPServer.Timeout,
		},
		logger: logger,
	}, nil
}

// Run обрабатывает очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.logger.Info("metrics server starting", slog.String("address", a.metrics.Addr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	a.logger.Info("consuming partner cache events", slog.String("queue", a.queue), slog.Int("workers", a.workers))
	err := rabbitmq.Consume(ctx, a.logger, a.ch, a.queue, a.workers, a.service.Handle)
	if err != nil {
		a.logger.Error("consumer stopped", sl.Err(err))
	}

	a.logger.Info("partner sync shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metrics.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop metrics server", sl.Err(err))
	}
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return err
}
