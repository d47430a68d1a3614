// Package subscription покупка подписки за внутренний баланс.
//
// Списание, продление и запись журнала выполняются одной транзакцией хранилища.
// Событие продления уходит в кеш партнёра только после коммита.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// SuccessMessage текст ответа при успешной покупке.
const SuccessMessage = "Подписка успешно приобретена."

// Статусы покупки для метрик.
const (
	StatusSuccess           = "success"
	StatusInsufficientFunds = "insufficient_funds"
	StatusNotFound          = "not_found"
	StatusError             = "error"
)

// Catalog товары магазина.
type Catalog interface {
	Item(ctx context.Context, shopID string) (*models.ShopItem, error)
}

// Debiter решает, хватает ли доступного баланса.
type Debiter interface {
	Debit(u *models.User, price decimal.Decimal, at time.Time) (decimal.Decimal, error)
}

// Notifier получает событие продления после коммита.
type Notifier interface {
	SubscriptionExtended(ctx context.Context, e notify.SubscriptionEvent)
}

// Metrics счётчик покупок.
type Metrics interface {
	Purchase(status string)
}

// PurchaseResult итог покупки.
type PurchaseResult struct {
	Message          string          `json:"message"`
	SubscriptionType string          `json:"subscription_type"`
	EndDate          time.Time       `json:"end_date"`
	Balance          decimal.Decimal `json:"balance_usdt"`
}

// Service покупка подписок.
type Service struct {
	log      *slog.Logger
	store    storage.Store
	catalog  Catalog
	ledger   *ledger.Ledger
	debiter  Debiter
	notifier Notifier
	metrics  Metrics
}

// New создаёт Service. metrics может быть nil.
func New(log *slog.Logger, store storage.Store, catalog Catalog, l *ledger.Ledger, debiter Debiter, notifier Notifier, metrics Metrics) *Service {
	return &Service{
		log:      log,
		store:    store,
		catalog:  catalog,
		ledger:   l,
		debiter:  debiter,
		notifier: notifier,
		metrics:  metrics,
	}
}

// Purchase списывает цену товара shopID и продлевает подписку пользователя.
func (s *Service) Purchase(ctx context.Context, userID, shopID string) (PurchaseResult, error) {
	const op = "subscription.Purchase"
	log := s.log.With(slog.String("op", op), sl.User(userID), slog.String("shop_id", shopID))

	item, err := s.catalog.Item(ctx, shopID)
	if err != nil {
		s.count(err)
		return PurchaseResult{}, fmt.Errorf("%s: %w", op, err)
	}

	var res PurchaseResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		entry, err := s.ledger.Open(ctx, tx, userID, item.SubscriptionType)
		if err != nil {
			return err
		}

		newBalance, err := s.debiter.Debit(u, item.Price, entry.Now())
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, userID, newBalance); err != nil {
			return err
		}

		end, err := entry.Extend(ctx, tx, item.Duration(), models.HistoryEntry{
			ShopID: item.ID,
			Name:   item.Name,
			Price:  item.Price,
		}, ledger.Options{Renew: true})
		if err != nil {
			return err
		}

		res = PurchaseResult{
			Message:          SuccessMessage,
			SubscriptionType: item.SubscriptionType,
			EndDate:          end,
			Balance:          newBalance,
		}
		return nil
	})
	if err != nil {
		s.count(err)
		var insufficient *balance.InsufficientFundsError
		if errors.As(err, &insufficient) {
			log.Info("insufficient funds", slog.String("shortfall", insufficient.Shortfall.StringFixed(2)))
		}
		return PurchaseResult{}, fmt.Errorf("%s: %w", op, err)
	}
	s.count(nil)

	log.Info("subscription purchased",
		slog.String("subscription_type", res.SubscriptionType),
		slog.Time("end_date", res.EndDate),
		slog.String("balance", res.Balance.String()),
	)

	s.notifier.SubscriptionExtended(ctx, notify.SubscriptionEvent{
		UserID:           userID,
		SubscriptionType: res.SubscriptionType,
		EndDate:          res.EndDate,
		Source:           notify.SourcePurchase,
	})
	return res, nil
}

func (s *Service) count(err error) {
	if s.metrics == nil {
		return
	}
	var insufficient *balance.InsufficientFundsError
	switch {
	case err == nil:
		s.metrics.Purchase(StatusSuccess)
	case errors.As(err, &insufficient):
		s.metrics.Purchase(StatusInsufficientFunds)
	case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrShopItemNotFound):
		s.metrics.Purchase(StatusNotFound)
	default:
		s.metrics.Purchase(StatusError)
	}
}
