package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// CreateUser сохраняет нового пользователя с нулевым балансом.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.CreateUser"
	if err := user.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	bots, err := json.Marshal(nonNilBots(user.Bots))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO users (id, balance_usdt, checkin_date, bot_statuses, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query, user.ID, user.Balance, nullTime(user.CheckinAt), bots, createdAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}
	return nil
}

// GetUser возвращает пользователя вместе с привязками к биржам.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return getUser(ctx, s.DB, userID)
}

func getUser(ctx context.Context, q querier, userID string) (*models.User, error) {
	const op = "storage.postgres.GetUser"

	query := `SELECT id, balance_usdt, checkin_date, bot_statuses, created_at
			  FROM users
			  WHERE id = $1`
	u := &models.User{}
	var checkin sql.NullTime
	var bots []byte
	err := q.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Balance, &checkin, &bots, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if checkin.Valid {
		at := checkin.Time.UTC()
		u.CheckinAt = &at
	}
	u.Bots = map[string]string{}
	if len(bots) > 0 {
		if err := json.Unmarshal(bots, &u.Bots); err != nil {
			return nil, fmt.Errorf("%s: bot statuses: %w", op, err)
		}
	}

	rows, err := q.QueryContext(ctx, `SELECT partner, uid, kyc, bonus_granted, linked_at
			  FROM user_partners
			  WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	u.Partners = map[models.Partner]models.PartnerLink{}
	for rows.Next() {
		var link models.PartnerLink
		if err := rows.Scan(&link.Partner, &link.UID, &link.KYC, &link.BonusGranted, &link.LinkedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		u.Partners[link.Partner] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindUsersByPartnerUID возвращает пользователей, к которым привязан UID.
func (s *Storage) FindUsersByPartnerUID(ctx context.Context, partner models.Partner, uid string, limit int) ([]string, error) {
	const op = "storage.postgres.FindUsersByPartnerUID"
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM user_partners
			  WHERE partner = $1 AND uid = $2
			  ORDER BY user_id
			  LIMIT $3`, string(partner), uid, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func setBalance(ctx context.Context, q querier, userID string, balance decimal.Decimal) error {
	const op = "storage.postgres.SetBalance"
	if balance.IsNegative() {
		return fmt.Errorf("%s: negative balance %s", op, balance)
	}
	res, err := q.ExecContext(ctx, `UPDATE users SET balance_usdt = $2 WHERE id = $1`, userID, balance)
	return checkAffected(op, res, err)
}

func setCheckin(ctx context.Context, q querier, userID string, balance decimal.Decimal, checkinAt time.Time) error {
	const op = "storage.postgres.SetCheckin"
	if balance.IsNegative() {
		return fmt.Errorf("%s: negative balance %s", op, balance)
	}
	res, err := q.ExecContext(ctx, `UPDATE users SET balance_usdt = $2, checkin_date = $3 WHERE id = $1`,
		userID, balance, checkinAt.UTC())
	return checkAffected(op, res, err)
}

func linkPartner(ctx context.Context, q querier, userID string, link models.PartnerLink) error {
	const op = "storage.postgres.LinkPartner"
	if err := link.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	linkedAt := link.LinkedAt
	if linkedAt.IsZero() {
		linkedAt = time.Now().UTC()
	}

	query := `INSERT INTO user_partners (user_id, partner, uid, kyc, linked_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id, partner) DO UPDATE
			  SET uid = EXCLUDED.uid,
			      kyc = CASE WHEN EXCLUDED.kyc = '' THEN user_partners.kyc ELSE EXCLUDED.kyc END,
			      linked_at = EXCLUDED.linked_at`
	_, err := q.ExecContext(ctx, query, userID, string(link.Partner), link.UID, link.KYC, linkedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func markBonusGranted(ctx context.Context, q querier, userID string, partner models.Partner) error {
	const op = "storage.postgres.MarkBonusGranted"
	res, err := q.ExecContext(ctx, `UPDATE user_partners SET bonus_granted = true
			  WHERE user_id = $1 AND partner = $2`, userID, string(partner))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: partner %s is not linked to user %s", op, partner, userID)
	}
	return nil
}

func checkAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNilBots(bots map[string]string) map[string]string {
	if bots == nil {
		return map[string]string{}
	}
	return bots
}
