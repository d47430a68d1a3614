// Package servicedesk уведомляет пользователя о новом сообщении службы поддержки
// через первого активного бота по приоритету.
package servicedesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
)

var (
	ErrUnsupportedCode = errors.New("unsupported sd code")
	ErrNoActiveBots    = errors.New("no active bots for user")
)

// Стандартные значения, если в конфиге пусто.
var (
	DefaultBots      = []string{"bssbot", "binbot", "bybbot"}
	DefaultTemplates = map[string]string{
		"msg_sd": "📩 <b>У вас новое сообщение от службы поддержки AIHermes.</b>\n" +
			"Зайдите в приложение — сообщение уже ждёт вас в разделе <b>Чат</b>.",
	}
)

// Store чтение пользователя и запись сообщения.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	EnqueueMessages(ctx context.Context, messages []*models.Message, alerts []*models.Alert) error
}

// Result итог уведомления.
type Result struct {
	Status     string `json:"status"`
	TelegramID string `json:"telegram_id"`
	SD         string `json:"sd"`
	Bot        string `json:"bot"`
	MessageID  string `json:"messageId"`
}

// Service уведомления службы поддержки.
type Service struct {
	log       *slog.Logger
	store     Store
	clock     clock.Clock
	bots      []string
	templates map[string]string
}

// New создаёт Service.
func New(log *slog.Logger, store Store, c clock.Clock, cfg config.ServiceDesk) *Service {
	if c == nil {
		c = clock.System{}
	}
	s := &Service{log: log, store: store, clock: c, bots: cfg.Bots, templates: cfg.Templates}
	if len(s.bots) == 0 {
		s.bots = DefaultBots
	}
	if len(s.templates) == 0 {
		s.templates = DefaultTemplates
	}
	return s
}

// Notify ставит сообщение по шаблону code первому активному боту пользователя.
func (s *Service) Notify(ctx context.Context, userID, code string) (Result, error) {
	const op = "servicedesk.Notify"
	log := s.log.With(slog.String("op", op), sl.User(userID), slog.String("sd", code))

	text, ok := s.templates[code]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w: %s", op, ErrUnsupportedCode, code)
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	bot := s.resolveBot(u)
	if bot == "" {
		return Result{}, fmt.Errorf("%s: %w", op, ErrNoActiveBots)
	}

	msg := &models.Message{
		TelegramID: userID,
		BotName:    bot,
		Status:     models.MessageStatusPending,
		Text:       text,
		Buttons:    []string{},
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.EnqueueMessages(ctx, []*models.Message{msg}, nil); err != nil {
		log.Error("failed to create message", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("message created", slog.String("bot", bot), slog.String("message_id", msg.ID))
	return Result{
		Status:     "ok",
		TelegramID: userID,
		SD:         code,
		Bot:        bot,
		MessageID:  msg.ID,
	}, nil
}

func (s *Service) resolveBot(u *models.User) string {
	for _, bot := range s.bots {
		if u.Bots[bot] == models.BotStatusActive {
			return bot
		}
	}
	return ""
}
