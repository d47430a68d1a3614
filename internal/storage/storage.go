// Package storage описывает контракт документного хранилища, с которым работает
// бизнес-логика: чтение документов, запросы по полю, атомарные транзакции
// с повтором при конфликте записи и пакетная запись.
//
// Внутри транзакции все чтения выполняются до первой записи; тело транзакции
// может быть выполнено повторно, поэтому в нём не должно быть внешних побочных эффектов.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrShopItemNotFound   = errors.New("shop item not found")
	ErrTxRetriesExhausted = errors.New("transaction retries exhausted")
	ErrReadAfterWrite     = errors.New("read after write inside transaction")
)

// Reader чтения внутри транзакции.
type Reader interface {
	// GetUser возвращает пользователя вместе с привязками к биржам.
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// FindSubscription возвращает первую подписку указанного типа или nil.
	FindSubscription(ctx context.Context, userID, subscriptionType string) (*models.Subscription, error)
}

// Writer записи внутри транзакции.
type Writer interface {
	// SaveSubscription вставляет подписку, если ID пустой, иначе обновляет существующую.
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	// AppendHistory добавляет запись в журнал пользователя.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	// SetBalance записывает базовый баланс, дату чекина не трогает.
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	// SetCheckin записывает базовый баланс и новую дату чекина.
	SetCheckin(ctx context.Context, userID string, balance decimal.Decimal, checkinAt time.Time) error
	// LinkPartner привязывает UID биржи; пустой KYC не перезаписывает сохранённый.
	LinkPartner(ctx context.Context, userID string, link models.PartnerLink) error
	// MarkBonusGranted выставляет флаг выданного бонуса партнёра.
	MarkBonusGranted(ctx context.Context, userID string, partner models.Partner) error
}

// Tx транзакция хранилища.
type Tx interface {
	Reader
	Writer
}

// TxFunc тело транзакции. Может быть вызвано несколько раз.
type TxFunc func(ctx context.Context, tx Tx) error

// Store документное хранилище.
type Store interface {
	// RunInTx выполняет fn атомарно, повторяя при конфликте записи.
	RunInTx(ctx context.Context, fn TxFunc) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetShopItem(ctx context.Context, shopID string) (*models.ShopItem, error)

	// FindUsersByPartnerUID возвращает пользователей, к которым привязан UID.
	FindUsersByPartnerUID(ctx context.Context, partner models.Partner, uid string, limit int) ([]string, error)
	// BonusUIDUsed проверяет журналы всех пользователей, кроме exceptUserID,
	// на запись бонуса bonusTag с этим UID.
	BonusUIDUsed(ctx context.Context, bonusTag, uid, exceptUserID string) (bool, error)
	// ListHistory возвращает журнал пользователя от новых к старым.
	ListHistory(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error)

	// EnqueueMessages пакетно записывает сообщения для ботов и уведомления.
	EnqueueMessages(ctx context.Context, messages []*models.Message, alerts []*models.Alert) error
}
