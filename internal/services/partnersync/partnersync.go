// Package partnersync переносит события продления подписок из очереди в сервис кеша партнёра.
package partnersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/partnercache"
)

var ErrInvalidEvent = errors.New("invalid subscription event")

// CacheClient сервис кеша партнёра.
type CacheClient interface {
	NewSubscription(ctx context.Context, subType, userID string, end time.Time) error
}

// Metrics счётчик неудачных отправок.
type Metrics interface {
	NotificationFailed(sink string)
}

// Service обработчик событий.
type Service struct {
	log     *slog.Logger
	client  CacheClient
	metrics Metrics
}

// New создаёт Service. metrics может быть nil.
func New(log *slog.Logger, client CacheClient, metrics Metrics) *Service {
	return &Service{log: log, client: client, metrics: metrics}
}

// Handle обрабатывает тело сообщения очереди.
// Ошибка означает, что сообщение будет отброшено без повторной доставки.
func (s *Service) Handle(ctx context.Context, body []byte) error {
	const op = "partnersync.Handle"
	log := s.log.With(slog.String("op", op))

	var e notify.SubscriptionEvent
	if err := json.Unmarshal(body, &e); err != nil {
		log.Error("failed to decode event", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidEvent, err)
	}
	if e.UserID == "" || e.SubscriptionType == "" || e.EndDate.IsZero() {
		log.Error("event has empty fields", slog.Any("event", e))
		return fmt.Errorf("%s: %w", op, ErrInvalidEvent)
	}
	log = log.With(sl.User(e.UserID), slog.String("subscription_type", e.SubscriptionType))

	err := s.client.NewSubscription(ctx, e.SubscriptionType, e.UserID, e.EndDate)
	switch {
	case err == nil:
		log.Info("partner cache updated", slog.Time("end_date", e.EndDate), slog.String("source", e.Source))
		return nil
	case errors.Is(err, partnercache.ErrUnsupportedType):
		log.Info("partner cache skipped for subscription type")
		return nil
	default:
		log.Warn("failed to update partner cache", sl.Err(err))
		if s.metrics != nil {
			s.metrics.NotificationFailed(notify.SinkPartnerCache)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}
