// Package ledger ведёт даты окончания подписок пользователя.
//
// Продление выполняется в две фазы внутри транзакции хранилища: Open читает
// подписку нужного типа, Entry.Extend записывает новую дату и запись журнала.
// Собственной транзакции пакет не держит.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

var (
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrEmptyType       = errors.New("subscription type is empty")
	ErrAlreadyExtended = errors.New("entry already extended")
)

// NextExpiry считает новую дату окончания: от текущей, если она строго в будущем, иначе от now.
func NextExpiry(current *time.Time, now time.Time, d time.Duration) time.Time {
	if current != nil && current.After(now) {
		return current.Add(d)
	}
	return now.Add(d)
}

// Ledger продлевает подписки.
type Ledger struct {
	clock clock.Clock
}

// New создаёт Ledger.
func New(c clock.Clock) *Ledger {
	if c == nil {
		c = clock.System{}
	}
	return &Ledger{clock: c}
}

// Entry подписка, прочитанная в текущей транзакции и готовая к продлению.
type Entry struct {
	userID  string
	subType string
	now     time.Time
	current *models.Subscription

	extended bool
}

// Options управляет флагами компаньона при продлении.
type Options struct {
	// Renew выставляет tv_end_data=false и tv_status=start, как при покупке.
	Renew bool
}

// Open читает подписку типа subType. Вызывается в фазе чтения транзакции.
func (l *Ledger) Open(ctx context.Context, tx storage.Reader, userID, subType string) (*Entry, error) {
	const op = "ledger.Open"
	if subType == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyType)
	}

	sub, err := tx.FindSubscription(ctx, userID, subType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Entry{
		userID:  userID,
		subType: subType,
		now:     l.clock.Now(),
		current: sub,
	}, nil
}

// Now момент, относительно которого считается продление.
func (e *Entry) Now() time.Time {
	return e.now
}

// Exists сообщает, есть ли уже подписка этого типа.
func (e *Entry) Exists() bool {
	return e.current != nil
}

// CurrentEnd текущая дата окончания или nil.
func (e *Entry) CurrentEnd() *time.Time {
	if e.current == nil || e.current.EndDate == nil {
		return nil
	}
	end := *e.current.EndDate
	return &end
}

// Extend продлевает подписку на d и добавляет запись в журнал.
// Пишет ровно одну подписку и одну запись истории.
func (e *Entry) Extend(ctx context.Context, tx storage.Writer, d time.Duration, history models.HistoryEntry, opts Options) (time.Time, error) {
	const op = "ledger.Extend"
	if d <= 0 {
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidDuration)
	}
	if e.extended {
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrAlreadyExtended)
	}

	end := NextExpiry(e.CurrentEnd(), e.now, d)

	var sub models.Subscription
	if e.current != nil {
		sub = *e.current
	} else {
		sub = models.Subscription{
			UserID:           e.userID,
			SubscriptionType: e.subType,
			CreatedAt:        e.now,
		}
	}
	sub.EndDate = &end
	if opts.Renew {
		sub.TVEndData = false
		sub.TVStatus = models.TVStatusStart
	}

	if err := tx.SaveSubscription(ctx, &sub); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	history.UserID = e.userID
	history.SubscriptionType = e.subType
	if history.PurchasedAt.IsZero() {
		history.PurchasedAt = e.now
	}
	if err := tx.AppendHistory(ctx, &history); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	e.extended = true
	return end, nil
}
