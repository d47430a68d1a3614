package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// GetShopItem возвращает товар каталога.
func (s *Storage) GetShopItem(ctx context.Context, shopID string) (*models.ShopItem, error) {
	const op = "storage.postgres.GetShopItem"

	item := &models.ShopItem{}
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, price, duration_days, stock
			  FROM shop WHERE id = $1`, shopID).
		Scan(&item.ID, &item.Name, &item.Price, &item.DurationDays, &item.SubscriptionType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrShopItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// BonusUIDUsed проверяет журналы других пользователей на бонус с этим UID.
func (s *Storage) BonusUIDUsed(ctx context.Context, bonusTag, uid, exceptUserID string) (bool, error) {
	const op = "storage.postgres.BonusUIDUsed"

	var used bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
			  SELECT 1 FROM subscription_history
			  WHERE shop_id = $1 AND partner_uid = $2 AND user_id <> $3
			  )`, bonusTag, uid, exceptUserID).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return used, nil
}

// ListHistory возвращает журнал пользователя от новых к старым.
func (s *Storage) ListHistory(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error) {
	const op = "storage.postgres.ListHistory"
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, shop_id, name, price, purchase_date,
			      subscription_type, COALESCE(partner_uid, '')
			  FROM subscription_history
			  WHERE user_id = $1
			  ORDER BY purchase_date DESC
			  LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ShopID, &e.Name, &e.Price, &e.PurchasedAt,
			&e.SubscriptionType, &e.PartnerUID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func findSubscription(ctx context.Context, q querier, userID, subscriptionType string) (*models.Subscription, error) {
	const op = "storage.postgres.FindSubscription"

	sub := &models.Subscription{}
	var end time.Time
	err := q.QueryRowContext(ctx, `SELECT id, user_id, subscription_type, end_date, tv_end_data, tv_status, created_at
			  FROM subscriptions
			  WHERE user_id = $1 AND subscription_type = $2
			  ORDER BY created_at, id
			  LIMIT 1`, userID, subscriptionType).
		Scan(&sub.ID, &sub.UserID, &sub.SubscriptionType, &end, &sub.TVEndData, &sub.TVStatus, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	end = end.UTC()
	sub.EndDate = &end
	return sub, nil
}

func saveSubscription(ctx context.Context, q querier, sub *models.Subscription) error {
	const op = "storage.postgres.SaveSubscription"
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if sub.ID == "" {
		id := uuid.NewString()
		createdAt := sub.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := q.ExecContext(ctx, `INSERT INTO subscriptions
			      (id, user_id, subscription_type, end_date, tv_end_data, tv_status, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, sub.UserID, sub.SubscriptionType, sub.EndDate.UTC(), sub.TVEndData, sub.TVStatus, createdAt)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		sub.ID = id
		sub.CreatedAt = createdAt
		return nil
	}

	res, err := q.ExecContext(ctx, `UPDATE subscriptions
			  SET end_date = $2, tv_end_data = $3, tv_status = $4
			  WHERE id = $1`, sub.ID, sub.EndDate.UTC(), sub.TVEndData, sub.TVStatus)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: subscription %s not found", op, sub.ID)
	}
	return nil
}

func appendHistory(ctx context.Context, q querier, entry *models.HistoryEntry) error {
	const op = "storage.postgres.AppendHistory"
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	var partnerUID sql.NullString
	if entry.PartnerUID != "" {
		partnerUID = sql.NullString{String: entry.PartnerUID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `INSERT INTO subscription_history
			      (id, user_id, shop_id, name, price, purchase_date, subscription_type, partner_uid)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, entry.UserID, entry.ShopID, entry.Name, entry.Price, entry.PurchasedAt.UTC(),
		entry.SubscriptionType, partnerUID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	entry.ID = id
	return nil
}

// EnqueueMessages записывает сообщения и уведомления одной транзакцией.
func (s *Storage) EnqueueMessages(ctx context.Context, messages []*models.Message, alerts []*models.Alert) (err error) {
	const op = "storage.postgres.EnqueueMessages"
	if len(messages) == 0 && len(alerts) == 0 {
		return nil
	}
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, m := range messages {
		buttons, err := json.Marshal(nonNilButtons(m.Buttons))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Status == "" {
			m.Status = models.MessageStatusPending
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages
			      (id, telegram_id, bot_name, status, text, image_url, buttons, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.TelegramID, m.BotName, m.Status, m.Text, m.ImageURL, buttons, m.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for _, a := range alerts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO alerts (id, user_id, message, read, type, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.UserID, a.Message, a.Read, a.Type, a.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func nonNilButtons(b []string) []string {
	if b == nil {
		return []string{}
	}
	return b
}
