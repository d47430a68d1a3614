// Package health отдаёт состояние зависимостей сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Check проверка одной зависимости.
type Check func(ctx context.Context) error

// Handler обработчик GET /health.
type Handler struct {
	log    *slog.Logger
	checks map[string]Check
}

// New создаёт Handler. Без проверок всегда отвечает ok.
func New(log *slog.Logger, checks map[string]Check) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.log.Warn("health check failed", slog.String("op", op), slog.String("check", name), sl.Err(err))
			status[name] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}

	if code != http.StatusOK {
		response.JSON(w, r, code, response.ErrorWithData("dependency unavailable", status))
		return
	}
	response.JSON(w, r, code, response.OK("", status))
}
