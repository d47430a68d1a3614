package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/balance/checkin"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/balance/view"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/health"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/partner/checkreferral"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/partner/linkuid"
	sdnotify "github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/servicedesk/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/subscription/purchase"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/handlers/users/create"
	"github.com/magabrotheeeer/hermes-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/bonus"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/servicedesk"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/users"
)

// Deps сервисы, которые обслуживают маршруты.
type Deps struct {
	Users          *users.Service
	Purchases      *subscription.Service
	Balance        *balance.Service
	Bonus          *bonus.Engine
	ServiceDesk    *servicedesk.Service
	Recorder       middlewarectx.Recorder
	MetricsHandler http.Handler
	Checks         map[string]health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, log *slog.Logger, cfg config.HTTPServer, d Deps) {
	r.Use(
		middleware.RequestID,
		middlewarectx.Logger(log),
		middleware.Recoverer,
	)
	if d.Recorder != nil {
		r.Use(middlewarectx.Metrics(d.Recorder))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(log, cfg.RateLimit, cfg.RateBurst))

		r.Method(http.MethodPost, "/users/create", create.New(log, d.Users))
		r.Method(http.MethodGet, "/users/{id}/balance", view.New(log, d.Balance))
		r.Method(http.MethodPost, "/check-in", checkin.New(log, d.Balance))
		r.Method(http.MethodPost, "/buy_subscription", purchase.New(log, d.Purchases))
		r.Method(http.MethodPost, "/{partner}/link-uid", linkuid.New(log, d.Bonus))
		r.Method(http.MethodPost, "/{partner}/check-referral", checkreferral.New(log, d.Bonus))

		sd := sdnotify.New(log, d.ServiceDesk)
		r.Method(http.MethodGet, "/sd/notify", sd)
		r.Method(http.MethodPost, "/sd/notify", sd)
	})

	r.Method(http.MethodGet, "/health", health.New(log, d.Checks))
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
