// Package checkreferral проверяет UID среди рефералов биржи без изменения состояния.
package checkreferral

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
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/bonus"
)

// Request тело запроса.
type Request struct {
	UID string `json:"uid" validate:"required,printascii,max=64"`
}

// Service поиск реферала.
type Service interface {
	CheckReferral(ctx context.Context, p models.Partner, uid string) (partner.Referral, error)
}

// Handler обработчик POST /api/{partner}/check-referral.
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
// @Summary Проверить реферала
// @Tags Partners
// @Accept json
// @Produce json
// @Param partner path string true "bybit, bingx или blofin"
// @Param request body Request true "UID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /{partner}/check-referral [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.partner.checkreferral"
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

	ref, err := h.service.CheckReferral(r.Context(), p, req.UID)
	if errors.Is(err, bonus.ErrUnknownPartner) {
		response.JSON(w, r, http.StatusNotFound, response.Error("unknown partner"))
		return
	}
	if err != nil {
		log.Error("failed to check referral", sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	response.JSON(w, r, http.StatusOK, response.OK("", ref))
}
