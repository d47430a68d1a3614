// Package partnercache клиент сервисов кеша подписок у партнёров.
// Каждому типу подписки соответствует свой сервис с эндпоинтом /new-subscription.
package partnercache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
)

// ErrUnsupportedType для типа подписки не настроен сервис кеша.
var ErrUnsupportedType = errors.New("partner cache is not configured for subscription type")

// Request тело запроса /new-subscription.
type Request struct {
	TelegramID string `json:"telegram_id"`
	EndDate    string `json:"end_date"`
}

// Client отправляет новые даты окончания подписок.
type Client struct {
	log    *slog.Logger
	http   *http.Client
	routes map[string]string
	zone   *time.Location
}

// New создаёт клиента. Дата рендерится в зоне с фиксированным смещением cfg.UTCOffset.
func New(log *slog.Logger, cfg config.PartnerCache, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		log:    log,
		http:   hc,
		routes: cfg.Routes(),
		zone:   time.FixedZone("", int(cfg.UTCOffset/time.Second)),
	}
}

// Supports сообщает, настроен ли сервис для типа подписки.
func (c *Client) Supports(subType string) bool {
	_, ok := c.routes[subType]
	return ok
}

// FormatEnd ISO-8601 с явным смещением, например 2025-07-29T14:28:00+03:00.
func (c *Client) FormatEnd(end time.Time) string {
	return end.In(c.zone).Format(time.RFC3339)
}

// NewSubscription сообщает сервису кеша новую дату окончания подписки пользователя.
func (c *Client) NewSubscription(ctx context.Context, subType, userID string, end time.Time) error {
	const op = "partnercache.NewSubscription"

	base, ok := c.routes[subType]
	if !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrUnsupportedType, subType)
	}

	body, err := json.Marshal(Request{TelegramID: userID, EndDate: c.FormatEnd(end)})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	url := strings.TrimRight(base, "/") + "/new-subscription"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s responded %d: %s", op, url, resp.StatusCode, text)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.Debug("partner cache updated",
		slog.String("op", op),
		slog.String("subscription_type", subType),
		slog.String("telegram_id", userID),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}
