package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/partnercache"
)

// CacheClient клиент сервиса кеша партнёра.
type CacheClient interface {
	Supports(subType string) bool
	NewSubscription(ctx context.Context, subType, userID string, end time.Time) error
}

// Publisher публикация события в брокер.
type Publisher interface {
	Publish(ctx context.Context, message any) error
}

// DirectMirror синхронно вызывает сервис кеша.
type DirectMirror struct {
	client CacheClient
}

// NewDirectMirror создаёт DirectMirror.
func NewDirectMirror(client CacheClient) *DirectMirror {
	return &DirectMirror{client: client}
}

// Mirror вызывает /new-subscription.
func (m *DirectMirror) Mirror(ctx context.Context, e SubscriptionEvent) error {
	return m.client.NewSubscription(ctx, e.SubscriptionType, e.UserID, e.EndDate)
}

// QueueMirror публикует событие в RabbitMQ для partner-sync.
type QueueMirror struct {
	publisher Publisher
	client    CacheClient
}

// NewQueueMirror создаёт QueueMirror. client используется только для фильтрации неподдерживаемых типов
// и может быть nil.
func NewQueueMirror(publisher Publisher, client CacheClient) *QueueMirror {
	return &QueueMirror{publisher: publisher, client: client}
}

// Mirror публикует событие.
func (m *QueueMirror) Mirror(ctx context.Context, e SubscriptionEvent) error {
	if m.client != nil && !m.client.Supports(e.SubscriptionType) {
		return fmt.Errorf("notify.QueueMirror: %w: %s", partnercache.ErrUnsupportedType, e.SubscriptionType)
	}
	return m.publisher.Publish(ctx, e)
}
