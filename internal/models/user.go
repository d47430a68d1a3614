// Package models содержит доменные записи сервиса: пользователя мини-приложения,
// его привязки к биржам-партнёрам, подписки, историю покупок и сообщения для ботов.
// Каждая запись проверяется на границе хранилища методом Validate.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Partner идентификатор биржи-партнёра.
type Partner string

const (
	PartnerBybit  Partner = "bybit"
	PartnerBingX  Partner = "bingx"
	PartnerBlofin Partner = "blofin"
)

// Статусы KYC, которые видит мини-приложение.
const (
	KYCPassed  = "KYC"
	KYCMissing = "No KYC"
)

// BotStatusActive значение статуса бота, при котором пользователю можно писать.
const BotStatusActive = "active"

// User пользователь с ключом Telegram ID в виде строки.
type User struct {
	ID        string                  // Telegram ID
	Balance   decimal.Decimal         // Базовый баланс в USDT
	CheckinAt *time.Time              // Дата следующего чекина, относительно неё считается «таяние»
	Bots      map[string]string       // Статусы ботов: bssbot -> active
	Partners  map[Partner]PartnerLink // Привязки UID бирж
	CreatedAt time.Time
}

// PartnerLink привязка UID биржи к пользователю.
type PartnerLink struct {
	Partner      Partner
	UID          string
	KYC          string
	BonusGranted bool // Одноразовый бонус за привязку уже начислен
	LinkedAt     time.Time
}

// Link возвращает привязку к партнёру; нулевое значение, если её нет.
func (u *User) Link(p Partner) PartnerLink {
	if u.Partners == nil {
		return PartnerLink{Partner: p}
	}
	link, ok := u.Partners[p]
	if !ok {
		return PartnerLink{Partner: p}
	}
	return link
}

// Validate проверяет обязательные поля пользователя.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is empty")
	}
	if u.Balance.IsNegative() {
		return errors.New("user balance is negative")
	}
	return nil
}

// Validate проверяет привязку перед записью.
func (l *PartnerLink) Validate() error {
	if l.Partner == "" {
		return errors.New("partner is empty")
	}
	if l.UID == "" {
		return errors.New("partner uid is empty")
	}
	return nil
}
