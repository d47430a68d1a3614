// Package bonus выдаёт одноразовый бонус за привязку реферального UID биржи.
//
// Проверки идут по порядку: UID есть среди рефералов оператора, UID не привязан
// к другому аккаунту, пользователь ещё не получал бонус этой биржи, UID не
// использовался для бонуса в журнале других пользователей. Поиск реферала и
// запросы по другим пользователям выполняются до транзакции, все записи внутри неё.
package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

var (
	ErrUnknownPartner = errors.New("unknown partner")
	ErrEmptyUID       = errors.New("partner uid is empty")
)

// Outcome результат привязки UID.
type Outcome string

const (
	OutcomeGranted        Outcome = "granted"
	OutcomeAlreadyGranted Outcome = "already_granted"
	OutcomeUIDReused      Outcome = "uid_reused"
	OutcomeNotEligible    Outcome = "not_eligible"
)

// ownersLimit сколько владельцев UID достаточно прочитать, чтобы найти чужой аккаунт.
const ownersLimit = 10

// Program реферальная программа биржи.
type Program struct {
	Lookup partner.Lookup
	Bonus  config.Bonus
}

// Notifier получает последствия закоммиченной привязки.
type Notifier interface {
	SubscriptionExtended(ctx context.Context, e notify.SubscriptionEvent)
	UserMessage(ctx context.Context, m notify.UserMessage)
}

// Metrics счётчик результатов.
type Metrics interface {
	BonusOutcome(partner, outcome string)
}

// Result итог привязки.
type Result struct {
	Outcome Outcome    `json:"outcome"`
	Message string     `json:"message,omitempty"`
	KYC     bool       `json:"kyc"`
	EndDate *time.Time `json:"end_date,omitempty"`
	// Taken UID уже привязан к другому аккаунту.
	Taken bool `json:"-"`
}

// Engine выдача бонусов.
type Engine struct {
	log      *slog.Logger
	store    storage.Store
	ledger   *ledger.Ledger
	notifier Notifier
	metrics  Metrics
	clock    clock.Clock
	programs map[models.Partner]Program
}

// New создаёт Engine. metrics может быть nil.
func New(
	log *slog.Logger,
	store storage.Store,
	l *ledger.Ledger,
	notifier Notifier,
	metrics Metrics,
	c clock.Clock,
	programs map[models.Partner]Program,
) *Engine {
	if c == nil {
		c = clock.System{}
	}
	return &Engine{
		log:      log,
		store:    store,
		ledger:   l,
		notifier: notifier,
		metrics:  metrics,
		clock:    c,
		programs: programs,
	}
}

// Partners возвращает биржи с настроенной программой.
func (e *Engine) Partners() []models.Partner {
	res := make([]models.Partner, 0, len(e.programs))
	for p := range e.programs {
		res = append(res, p)
	}
	slices.Sort(res)
	return res
}

// CheckReferral ищет UID среди рефералов без изменения состояния.
func (e *Engine) CheckReferral(ctx context.Context, p models.Partner, uid string) (partner.Referral, error) {
	const op = "bonus.CheckReferral"
	prog, ok := e.programs[p]
	if !ok {
		return partner.Referral{}, fmt.Errorf("%s: %w: %s", op, ErrUnknownPartner, p)
	}
	if uid == "" {
		return partner.Referral{}, fmt.Errorf("%s: %w", op, ErrEmptyUID)
	}
	return prog.Lookup.FindReferral(ctx, uid), nil
}

// Grant привязывает UID биржи к пользователю и выдаёт бонус, если он положен.
func (e *Engine) Grant(ctx context.Context, userID string, p models.Partner, uid string) (Result, error) {
	const op = "bonus.Grant"
	log := e.log.With(
		slog.String("op", op),
		sl.User(userID),
		slog.String("partner", string(p)),
		slog.String("uid", uid),
	)

	prog, ok := e.programs[p]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w: %s", op, ErrUnknownPartner, p)
	}
	if uid == "" {
		return Result{}, fmt.Errorf("%s: %w", op, ErrEmptyUID)
	}

	ref := prog.Lookup.FindReferral(ctx, uid)
	if !ref.Found {
		log.Info("uid is not a referral")
		e.count(p, OutcomeNotEligible)
		return Result{Outcome: OutcomeNotEligible}, nil
	}

	owners, err := e.store.FindUsersByPartnerUID(ctx, p, uid, ownersLimit)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	taken := slices.ContainsFunc(owners, func(id string) bool { return id != userID })

	usedInHistory, err := e.store.BonusUIDUsed(ctx, prog.Bonus.Tag, uid, userID)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	var res Result
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		res = Result{KYC: ref.KYC}

		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		entry, err := e.ledger.Open(ctx, tx, userID, prog.Bonus.SubscriptionType)
		if err != nil {
			return err
		}

		link := models.PartnerLink{Partner: p, UID: uid, LinkedAt: entry.Now()}
		if ref.KYC {
			link.KYC = models.KYCPassed
		}
		if err := tx.LinkPartner(ctx, userID, link); err != nil {
			return err
		}

		switch {
		case taken:
			res.Outcome = OutcomeUIDReused
			res.Taken = true
			return nil
		case u.Link(p).BonusGranted:
			res.Outcome = OutcomeAlreadyGranted
			return nil
		case usedInHistory:
			res.Outcome = OutcomeUIDReused
			return nil
		}

		end, err := entry.Extend(ctx, tx, prog.Bonus.Duration, models.HistoryEntry{
			ShopID:     prog.Bonus.Tag,
			Name:       prog.Bonus.Name,
			Price:      decimal.Zero,
			PartnerUID: uid,
		}, ledger.Options{})
		if err != nil {
			return err
		}
		if err := tx.MarkBonusGranted(ctx, userID, p); err != nil {
			return err
		}
		res.Outcome = OutcomeGranted
		res.EndDate = &end
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	e.count(p, res.Outcome)
	log.Info("uid linked",
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("taken", res.Taken),
		slog.Bool("kyc", res.KYC),
	)

	if !res.Taken {
		res.Message = messageFor(p, prog.Bonus, res.Outcome)
		e.notifier.UserMessage(ctx, notify.UserMessage{
			UserID:   userID,
			BotName:  prog.Bonus.BotName,
			Text:     res.Message,
			ImageURL: prog.Bonus.ImageURL,
		})
	}
	if res.Outcome == OutcomeGranted {
		e.notifier.SubscriptionExtended(ctx, notify.SubscriptionEvent{
			UserID:           userID,
			SubscriptionType: prog.Bonus.SubscriptionType,
			EndDate:          *res.EndDate,
			Source:           notify.SourceBonus,
		})
	}
	return res, nil
}

func (e *Engine) count(p models.Partner, o Outcome) {
	if e.metrics != nil {
		e.metrics.BonusOutcome(string(p), string(o))
	}
}
