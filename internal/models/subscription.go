package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Значения tv_status для внешней системы-компаньона.
const TVStatusStart = "start"

// Subscription подписка пользователя определённого типа.
// На одну пару (пользователь, тип) должна существовать одна запись,
// истечение определяется только сравнением EndDate с текущим временем.
type Subscription struct {
	ID               string
	UserID           string
	SubscriptionType string
	EndDate          *time.Time
	TVEndData        bool   // Флаг окончания для компаньона
	TVStatus         string // Статус для компаньона
	CreatedAt        time.Time
}

// Active сообщает, действует ли подписка в момент now.
func (s *Subscription) Active(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.After(now)
}

// Validate проверяет подписку перед записью.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return errors.New("subscription user id is empty")
	}
	if s.SubscriptionType == "" {
		return errors.New("subscription type is empty")
	}
	if s.EndDate == nil {
		return errors.New("subscription end date is empty")
	}
	return nil
}

// HistoryEntry неизменяемая запись журнала покупок и бонусов.
type HistoryEntry struct {
	ID               string
	UserID           string
	ShopID           string // ID товара или тег бонуса
	Name             string
	Price            decimal.Decimal // 0 для бонусов
	PurchasedAt      time.Time
	SubscriptionType string
	PartnerUID       string // UID биржи, за который выдан бонус
}

// Validate проверяет запись журнала перед записью.
func (h *HistoryEntry) Validate() error {
	if h.UserID == "" {
		return errors.New("history user id is empty")
	}
	if h.ShopID == "" {
		return errors.New("history shop id is empty")
	}
	if h.Price.IsNegative() {
		return errors.New("history price is negative")
	}
	if h.PurchasedAt.IsZero() {
		return errors.New("history purchase date is empty")
	}
	return nil
}

// ShopItem товар каталога, только для чтения.
type ShopItem struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	DurationDays     int             `json:"duration"`
	SubscriptionType string          `json:"stock"`
}

// Duration длительность подписки товара.
func (s *ShopItem) Duration() time.Duration {
	return time.Duration(s.DurationDays) * 24 * time.Hour
}
