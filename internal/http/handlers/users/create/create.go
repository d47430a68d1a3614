// Package create реализует HTTP-обработчик создания начальной записи пользователя.
package create

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
)

// Request тело запроса.
type Request struct {
	TelegramID string `json:"telegram_id" validate:"required,numeric,max=32"`
}

// Service создание пользователя.
type Service interface {
	Create(ctx context.Context, userID string) (bool, error)
}

// Handler обработчик POST /api/users/create.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать пользователя
// @Description Создаёт запись пользователя с нулевым балансом. Повторный вызов не ошибка.
// @Tags Users
// @Accept json
// @Produce json
// @Param request body Request true "Telegram ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /users/create [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.create"
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

	created, err := h.service.Create(r.Context(), req.TelegramID)
	if err != nil {
		log.Error("failed to create user", sl.User(req.TelegramID), sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	msg := "Пользователь создан."
	if !created {
		msg = "Пользователь уже существует."
	}
	response.JSON(w, r, http.StatusOK, response.OK(msg, map[string]any{
		"telegram_id": req.TelegramID,
		"created":     created,
	}))
}
