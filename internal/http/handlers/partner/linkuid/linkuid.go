// Package linkuid реализует привязку UID биржи к пользователю с выдачей реферального бонуса.
package linkuid

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/response"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/bonus"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Коды ответа, которые ожидает фронтенд.
const (
	CodeTaken    = "ERROR_TAKEN"
	CodeNotFound = "ERROR_NOT_FOUND"
)

// Request тело запроса.
type Request struct {
	TelegramID string `json:"telegram_id" validate:"required,numeric,max=32"`
	UID        string `json:"uid" validate:"required,printascii,max=64"`
}

// Service выдача бонуса.
type Service interface {
	Grant(ctx context.Context, userID string, p models.Partner, uid string) (bonus.Result, error)
}

// Handler обработчик POST /api/{partner}/link-uid.
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
// @Summary Привязать UID биржи
// @Description Проверяет UID среди рефералов биржи, привязывает его и выдаёт одноразовый бонус.
// @Tags Partners
// @Accept json
// @Produce json
// @Param partner path string true "bybit, bingx или blofin"
// @Param request body Request true "Пользователь и UID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response "ERROR_NOT_FOUND или неизвестная биржа"
// @Failure 409 {object} response.Response "ERROR_TAKEN"
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /{partner}/link-uid [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.partner.linkuid"
	p := models.Partner(chi.URLParam(r, "partner"))
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("partner", string(p)),
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

	res, err := h.service.Grant(r.Context(), req.TelegramID, p, req.UID)
	switch {
	case errors.Is(err, bonus.ErrUnknownPartner):
		response.JSON(w, r, http.StatusNotFound, response.Error("unknown partner"))
		return
	case errors.Is(err, storage.ErrUserNotFound):
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to link uid", sl.User(req.TelegramID), sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	switch {
	case res.Taken:
		response.JSON(w, r, http.StatusConflict, response.ErrorWithData(CodeTaken, res))
	case res.Outcome == bonus.OutcomeNotEligible:
		response.JSON(w, r, http.StatusNotFound, response.ErrorWithData(CodeNotFound, res))
	default:
		response.JSON(w, r, http.StatusOK, response.OK(res.Message, res))
	}
}
