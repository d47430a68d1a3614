// Package view отдаёт доступный баланс пользователя.
package view

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Service чтение баланса.
type Service interface {
	AvailableBalance(ctx context.Context, userID string) (balance.View, error)
}

// Handler обработчик GET /api/users/{id}/balance.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Баланс пользователя
// @Description Возвращает доступный баланс с учётом таяния до даты чекина.
// @Tags Balance
// @Produce json
// @Param id path string true "Telegram ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /users/{id}/balance [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.balance.view"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "id")
	if err := h.validate.Var(userID, "required,numeric,max=32"); err != nil {
		log.Error("invalid user id", slog.String("id", userID), sl.Err(err))
		response.JSON(w, r, http.StatusUnprocessableEntity, response.Error("invalid user id"))
		return
	}

	v, err := h.service.AvailableBalance(r.Context(), userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to read balance", sl.User(userID), sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	response.JSON(w, r, http.StatusOK, response.OK("", v))
}
