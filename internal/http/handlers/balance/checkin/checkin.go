// Package checkin реализует HTTP-обработчик ежедневного чекина.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// SuccessMessage текст успешного ответа.
const SuccessMessage = "Check-in successful."

// Request тело запроса.
type Request struct {
	TelegramID string `json:"telegram_id" validate:"required,numeric,max=32"`
}

// Service чекин пользователя.
type Service interface {
	Checkin(ctx context.Context, userID string) (balance.CheckinResult, error)
}

// Handler обработчик POST /api/check-in.
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
// @Summary Чекин
// @Description Начисляет награду к доступному балансу и переносит дату чекина на сутки вперёд.
// @Tags Balance
// @Accept json
// @Produce json
// @Param request body Request true "Пользователь"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /check-in [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.balance.checkin"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		response.JSON(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.JSON(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.Checkin(r.Context(), req.TelegramID)
	if errors.Is(err, storage.ErrUserNotFound) {
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to check in", sl.User(req.TelegramID), sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	response.JSON(w, r, http.StatusOK, response.OK(SuccessMessage, res))
}
