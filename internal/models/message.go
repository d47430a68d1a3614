package models

import (
	"errors"
	"time"
)

// MessageStatusPending статус сообщения, ожидающего отправки ботом.
const MessageStatusPending = "pending"

// AlertTypeInfo тип уведомления в ленте мини-приложения.
const AlertTypeInfo = 1

// Message задание для внешнего отправщика сообщений в Telegram.
type Message struct {
	ID         string
	TelegramID string
	BotName    string
	Status     string
	Text       string
	ImageURL   string
	Buttons    []string
	CreatedAt  time.Time
}

// Validate проверяет сообщение перед записью.
func (m *Message) Validate() error {
	if m.TelegramID == "" {
		return errors.New("message telegram id is empty")
	}
	if m.BotName == "" {
		return errors.New("message bot name is empty")
	}
	if m.Text == "" {
		return errors.New("message text is empty")
	}
	return nil
}

// Alert уведомление в ленте пользователя.
type Alert struct {
	ID        string
	UserID    string
	Message   string
	Read      bool
	Type      int
	CreatedAt time.Time
}
