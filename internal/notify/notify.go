// Package notify рассылает последствия уже закоммиченных изменений ledger:
// зеркалирует новую дату подписки в кеш партнёра и ставит сообщения пользователю в очередь.
//
// Доставка не более одного раза: ошибки логируются и не возвращаются вызывающему,
// повторов нет. Источник истины это хранилище.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/partnercache"
)

// Источники продления.
const (
	SourcePurchase = "purchase"
	SourceBonus    = "bonus"
)

// Sinks для метрик ошибок.
const (
	SinkPartnerCache = "partner_cache"
	SinkMessages     = "messages"
)

const sendTimeout = 15 * time.Second

// SubscriptionEvent подписка пользователя продлена.
type SubscriptionEvent struct {
	UserID           string    `json:"telegram_id"`
	SubscriptionType string    `json:"subscription_type"`
	EndDate          time.Time `json:"end_date"`
	Source           string    `json:"source"`
}

// UserMessage сообщение пользователю через бота и запись в ленте уведомлений.
type UserMessage struct {
	UserID   string
	BotName  string
	Text     string
	ImageURL string
	Buttons  []string
	// NoAlert не создавать запись в ленте.
	NoAlert bool
}

// Mirror доставляет событие продления в кеш партнёра.
type Mirror interface {
	Mirror(ctx context.Context, e SubscriptionEvent) error
}

// Outbox пакетная запись сообщений для ботов.
type Outbox interface {
	EnqueueMessages(ctx context.Context, messages []*models.Message, alerts []*models.Alert) error
}

// Metrics счётчик неудачных отправок.
type Metrics interface {
	NotificationFailed(sink string)
}

// Dispatcher отправляет события после коммита.
type Dispatcher struct {
	log     *slog.Logger
	mirror  Mirror
	outbox  Outbox
	metrics Metrics
	clock   clock.Clock
}

// New создаёт Dispatcher. mirror может быть nil, тогда зеркалирование выключено.
func New(log *slog.Logger, mirror Mirror, outbox Outbox, metrics Metrics, c clock.Clock) *Dispatcher {
	if c == nil {
		c = clock.System{}
	}
	return &Dispatcher{log: log, mirror: mirror, outbox: outbox, metrics: metrics, clock: c}
}

// SubscriptionExtended зеркалирует новую дату окончания.
func (d *Dispatcher) SubscriptionExtended(ctx context.Context, e SubscriptionEvent) {
	const op = "notify.SubscriptionExtended"
	log := d.log.With(
		slog.String("op", op),
		sl.User(e.UserID),
		slog.String("subscription_type", e.SubscriptionType),
		slog.String("source", e.Source),
	)
	if d.mirror == nil {
		return
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	err := d.mirror.Mirror(ctx, e)
	switch {
	case err == nil:
		log.Info("partner cache notified", slog.Time("end_date", e.EndDate))
	case errors.Is(err, partnercache.ErrUnsupportedType):
		log.Info("partner cache skipped for subscription type")
	default:
		log.Warn("failed to notify partner cache", sl.Err(err))
		d.failed(SinkPartnerCache)
	}
}

// UserMessage ставит сообщение боту и запись в ленту одной пачкой.
func (d *Dispatcher) UserMessage(ctx context.Context, m UserMessage) {
	const op = "notify.UserMessage"
	log := d.log.With(slog.String("op", op), sl.User(m.UserID), slog.String("bot", m.BotName))
	if d.outbox == nil {
		return
	}

	now := d.clock.Now()
	msg := &models.Message{
		TelegramID: m.UserID,
		BotName:    m.BotName,
		Status:     models.MessageStatusPending,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		Buttons:    m.Buttons,
		CreatedAt:  now,
	}
	var alerts []*models.Alert
	if !m.NoAlert {
		alerts = append(alerts, &models.Alert{
			UserID:    m.UserID,
			Message:   m.Text,
			Type:      models.AlertTypeInfo,
			CreatedAt: now,
		})
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	if err := d.outbox.EnqueueMessages(ctx, []*models.Message{msg}, alerts); err != nil {
		log.Warn("failed to enqueue user message", sl.Err(err))
		d.failed(SinkMessages)
		return
	}
	log.Info("user message enqueued", slog.String("message_id", msg.ID))
}

func (d *Dispatcher) failed(sink string) {
	if d.metrics != nil {
		d.metrics.NotificationFailed(sink)
	}
}

// detach отвязывает отправку от отмены входящего запроса, но ограничивает её по времени.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
}
