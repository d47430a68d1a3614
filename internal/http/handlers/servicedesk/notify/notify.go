// Package notify реализует уведомление пользователя о сообщении службы поддержки.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/servicedesk"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Request параметры запроса из query или формы.
type Request struct {
	TelegramID string `validate:"required,numeric,max=32"`
	SD         string `validate:"required,printascii,max=64"`
}

// Service уведомления службы поддержки.
type Service interface {
	Notify(ctx context.Context, userID, code string) (servicedesk.Result, error)
}

// Handler обработчик GET|POST /api/sd/notify.
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
// @Summary Уведомление службы поддержки
// @Description Ставит сообщение по шаблону первому активному боту пользователя.
// @Tags ServiceDesk
// @Produce json
// @Param id query string true "Telegram ID"
// @Param sd query string true "Код шаблона, например msg_sd"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response "Неизвестный код"
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response "Нет активных ботов"
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /sd/notify [get]
// @Router /sd/notify [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.servicedesk.notify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	req := Request{
		TelegramID: r.FormValue("id"),
		SD:         r.FormValue("sd"),
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.JSON(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.Notify(r.Context(), req.TelegramID, req.SD)
	switch {
	case err == nil:
		response.JSON(w, r, http.StatusOK, response.OK("", res))
	case errors.Is(err, servicedesk.ErrUnsupportedCode):
		response.JSON(w, r, http.StatusBadRequest, response.Error("unsupported sd code"))
	case errors.Is(err, storage.ErrUserNotFound):
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
	case errors.Is(err, servicedesk.ErrNoActiveBots):
		response.JSON(w, r, http.StatusConflict, response.Error("no active bots"))
	default:
		log.Error("failed to notify user", sl.User(req.TelegramID), sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
	}
}
