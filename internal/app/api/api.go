// Package api собирает HTTP-сервис ledger: хранилище, кеш каталога, биржи-партнёры,
// доставку событий в кеш партнёров и маршруты.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hermes-ledger/internal/cache"
	"github.com/magabrotheeeer/hermes-ledger/internal/catalog"
	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/health"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/metrics"
	"github.com/magabrotheeeer/hermes-ledger/internal/migrations"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner/bingx"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner/blofin"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner/bybit"
	"github.com/magabrotheeeer/hermes-ledger/internal/partnercache"
	"github.com/magabrotheeeer/hermes-ledger/internal/rabbitmq"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/bonus"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/servicedesk"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/users"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage/memory"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервис.
type App struct {
	server  *http.Server
	logger  *slog.Logger
	closers []func() error
}

// New поднимает зависимости по конфигу. При ошибке уже открытые соединения закрываются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	const op = "app.api.New"

	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	clk := clock.System{}
	m := metrics.New(prometheus.DefaultRegisterer)
	checks := make(map[string]health.Check)

	store, err := a.openStorage(ctx, cfg.Storage, m, checks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var shopCache catalog.Cache
	if cfg.Redis.Address != "" {
		c, err := cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, shop cache disabled", sl.Err(err))
		} else {
			shopCache = c
			checks["cache"] = c.Ping
			a.closers = append(a.closers, c.Close)
		}
	}
	shop := catalog.New(logger, store, shopCache, cfg.Redis.ShopTTL)
	if cfg.Storage.Driver == config.StorageMemory {
		// Товары из конфига заменяют закешированные с прошлого запуска.
		shop.Invalidate(ctx, shopIDs(cfg.Storage.Shop)...)
	}

	mirror, err := a.openMirror(ctx, cfg, checks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	dispatcher := notify.New(logger, mirror, store, m, clk)

	bal, err := balance.New(logger, store, clk, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l := ledger.New(clk)

	engine := bonus.New(logger, store, l, dispatcher, m, clk, programs(logger, cfg.Partners, m))
	logger.Info("partner programs configured", slog.Any("partners", engine.Partners()))

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg.HTTPServer, Deps{
		Users:          users.New(logger, store, clk),
		Purchases:      subscription.New(logger, store, shop, l, bal, dispatcher, m),
		Balance:        bal,
		Bonus:          engine,
		ServiceDesk:    servicedesk.New(logger, store, clk, cfg.ServiceDesk),
		Recorder:       m,
		MetricsHandler: promhttp.Handler(),
		Checks:         checks,
	})

	a.server = &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}
	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.Storage, m *metrics.Metrics, checks map[string]health.Check) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		a.logger.Warn("using in-memory storage, data is not persisted")
		s := memory.New(memory.WithMaxAttempts(cfg.TxMaxAttempts), memory.WithRetryHook(m.TxRetry))
		for _, item := range cfg.Shop {
			price, err := decimal.NewFromString(item.Price)
			if err != nil {
				return nil, fmt.Errorf("shop item %s: price: %w", item.ID, err)
			}
			s.PutShopItem(&models.ShopItem{
				ID:               item.ID,
				Name:             item.Name,
				Price:            price,
				DurationDays:     item.DurationDays,
				SubscriptionType: item.SubscriptionType,
			})
		}
		return s, nil
	default:
		s, err := postgres.New(ctx, cfg.DSN,
			postgres.WithMaxConns(cfg.MaxConns),
			postgres.WithMaxAttempts(cfg.TxMaxAttempts),
			postgres.WithRetryHook(m.TxRetry),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		if err := migrations.Run(s.DB, cfg.MigrationsPath); err != nil {
			return nil, err
		}
		checks["storage"] = s.Ping
		return s, nil
	}
}

// openMirror выбирает доставку событий в кеш партнёров. В режиме off возвращает nil.
func (a *App) openMirror(ctx context.Context, cfg *config.Config, checks map[string]health.Check) (notify.Mirror, error) {
	client := partnercache.New(a.logger, cfg.PartnerCache, nil)

	switch cfg.PartnerCache.Mode {
	case config.PartnerCacheOff:
		return nil, nil
	case config.PartnerCacheQueue:
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)

		ch, err := rabbitmq.SetupChannel(conn, topology(cfg.RabbitMQ))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ch.Close)
		checks["rabbitmq"] = connCheck(conn)

		return notify.NewQueueMirror(rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey), client), nil
	default:
		return notify.NewDirectMirror(client), nil
	}
}

func programs(log *slog.Logger, cfg config.Partners, obs partner.Observer) map[models.Partner]bonus.Program {
	fetchers := map[models.Partner]func(config.Partner) partner.Fetcher{
		models.PartnerBybit:  func(c config.Partner) partner.Fetcher { return bybit.New(c, nil) },
		models.PartnerBingX:  func(c config.Partner) partner.Fetcher { return bingx.New(c, nil) },
		models.PartnerBlofin: func(c config.Partner) partner.Fetcher { return blofin.New(c, nil) },
	}

	res := make(map[models.Partner]bonus.Program)
	for name, pc := range cfg.All() {
		if !pc.Enabled {
			continue
		}
		p := models.Partner(name)
		scanner := partner.NewScanner(log, p, fetchers[p](pc), partner.Options{
			PageSize: pc.PageSize,
			MaxPages: pc.MaxPages,
			RPS:      pc.RPS,
			Observer: obs,
		})
		res[p] = bonus.Program{Lookup: scanner, Bonus: pc.Bonus}
	}
	return res
}

func topology(cfg config.RabbitMQ) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchange:   cfg.Exchange,
		Queue:      cfg.Queue,
		RoutingKey: cfg.RoutingKey,
		Prefetch:   cfg.Workers,
	}
}

func connCheck(conn *amqp.Connection) health.Check {
	return func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
}

// Run запускает сервер и останавливает его после отмены ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

// close закрывает соединения в обратном порядке.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}

func shopIDs(items []config.ShopItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
