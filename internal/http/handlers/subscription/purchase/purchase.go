// Package purchase реализует HTTP-обработчик покупки подписки за внутренний баланс.
//
// Недостаток средств возвращается с кодом 402 и суммой, которой не хватает.
package purchase

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
	"github.com/magabrotheeeer/hermes-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Request тело запроса.
type Request struct {
	TelegramID string `json:"telegram_id" validate:"required,numeric,max=32"`
	ShopID     string `json:"shop_id" validate:"required,printascii,max=128"`
}

// Service покупка подписки.
type Service interface {
	Purchase(ctx context.Context, userID, shopID string) (subscription.PurchaseResult, error)
}

// Handler обработчик POST /api/buy_subscription.
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
// @Summary Купить подписку
// @Description Списывает цену товара с доступного баланса и продлевает подписку.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param request body Request true "Пользователь и товар"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 402 {object} response.Response "Недостаточно средств"
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /buy_subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.purchase"
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
	log = log.With(sl.User(req.TelegramID), slog.String("shop_id", req.ShopID))

	res, err := h.service.Purchase(r.Context(), req.TelegramID, req.ShopID)
	var insufficient *balance.InsufficientFundsError
	switch {
	case err == nil:
	case errors.As(err, &insufficient):
		response.JSON(w, r, http.StatusPaymentRequired, response.ErrorWithData(insufficient.Error(), map[string]any{
			"shortfall": insufficient.Shortfall.String(),
		}))
		return
	case errors.Is(err, storage.ErrUserNotFound):
		response.JSON(w, r, http.StatusNotFound, response.Error("user not found"))
		return
	case errors.Is(err, storage.ErrShopItemNotFound):
		response.JSON(w, r, http.StatusNotFound, response.Error("shop item not found"))
		return
	default:
		log.Error("failed to purchase subscription", sl.Err(err))
		response.JSON(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	response.JSON(w, r, http.StatusOK, response.OK(res.Message, res))
}
