package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// pgTx реализует storage.Tx поверх *sql.Tx.
type pgTx struct {
	q       querier
	written bool
}

func (t *pgTx) checkRead(op string) error {
	if t.written {
		return fmt.Errorf("%s: %w", op, storage.ErrReadAfterWrite)
	}
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if err := t.checkRead("storage.postgres.tx.GetUser"); err != nil {
		return nil, err
	}
	return getUser(ctx, t.q, userID)
}

func (t *pgTx) FindSubscription(ctx context.Context, userID, subscriptionType string) (*models.Subscription, error) {
	if err := t.checkRead("storage.postgres.tx.FindSubscription"); err != nil {
		return nil, err
	}
	return findSubscription(ctx, t.q, userID, subscriptionType)
}

func (t *pgTx) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	t.written = true
	return saveSubscription(ctx, t.q, sub)
}

func (t *pgTx) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	t.written = true
	return appendHistory(ctx, t.q, entry)
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	t.written = true
	return setBalance(ctx, t.q, userID, balance)
}

func (t *pgTx) SetCheckin(ctx context.Context, userID string, balance decimal.Decimal, checkinAt time.Time) error {
	t.written = true
	return setCheckin(ctx, t.q, userID, balance, checkinAt)
}

func (t *pgTx) LinkPartner(ctx context.Context, userID string, link models.PartnerLink) error {
	t.written = true
	return linkPartner(ctx, t.q, userID, link)
}

func (t *pgTx) MarkBonusGranted(ctx context.Context, userID string, partner models.Partner) error {
	t.written = true
	return markBonusGranted(ctx, t.q, userID, partner)
}
