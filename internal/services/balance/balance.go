// Package balance считает «тающий» баланс пользователя и выполняет чекин и списания.
//
// Пока дата чекина в будущем, доступный баланс уменьшается линейно со скоростью
// rate в секунду до момента чекина и не опускается ниже нуля.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// balancePlaces точность хранения баланса, NUMERIC(20,8).
const balancePlaces = 8

// InsufficientFundsError недостаточно средств для покупки.
type InsufficientFundsError struct {
	Shortfall decimal.Decimal
}

// Error округляет недостачу до цента вверх, чтобы показанная сумма была не меньше недостающей.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("Недостаточно средств. Не хватает %s USDT.", e.Shortfall.RoundUp(2).StringFixed(2))
}

// Available возвращает доступный баланс в момент at.
func Available(base decimal.Decimal, checkin *time.Time, at time.Time, rate decimal.Decimal) decimal.Decimal {
	if checkin == nil || !checkin.After(at) {
		return base
	}
	secondsLeft := decimal.New(int64(checkin.Sub(at)), -9)
	available := base.Sub(secondsLeft.Mul(rate))
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// View баланс пользователя на момент запроса.
type View struct {
	UserID    string          `json:"telegram_id"`
	Available decimal.Decimal `json:"available_balance"`
	Base      decimal.Decimal `json:"balance_usdt"`
	CheckinAt *time.Time      `json:"checkin_date,omitempty"`
	At        time.Time       `json:"at"`
}

// CheckinResult результат чекина.
type CheckinResult struct {
	Balance     decimal.Decimal `json:"new_balance"`
	NextCheckin time.Time       `json:"new_checkin_date"`
}

// Service операции с балансом.
type Service struct {
	log    *slog.Logger
	store  storage.Store
	clock  clock.Clock
	rate   decimal.Decimal
	reward decimal.Decimal
	period time.Duration
}

// New создаёт Service по настройкам ledger.
func New(log *slog.Logger, store storage.Store, c clock.Clock, cfg config.Ledger) (*Service, error) {
	const op = "balance.New"

	rate, err := decimal.NewFromString(cfg.DecayRate)
	if err != nil {
		return nil, fmt.Errorf("%s: decay_rate: %w", op, err)
	}
	reward, err := decimal.NewFromString(cfg.CheckinReward)
	if err != nil {
		return nil, fmt.Errorf("%s: checkin_reward: %w", op, err)
	}
	if rate.IsNegative() || reward.IsNegative() || cfg.CheckinPeriod <= 0 {
		return nil, fmt.Errorf("%s: invalid ledger settings", op)
	}
	if c == nil {
		c = clock.System{}
	}
	return &Service{
		log:    log,
		store:  store,
		clock:  c,
		rate:   rate,
		reward: reward,
		period: cfg.CheckinPeriod,
	}, nil
}

// AvailableBalance возвращает баланс пользователя на текущий момент.
func (s *Service) AvailableBalance(ctx context.Context, userID string) (View, error) {
	const op = "balance.AvailableBalance"

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return View{}, fmt.Errorf("%s: %w", op, err)
	}
	at := s.clock.Now()
	return View{
		UserID:    u.ID,
		Available: Available(u.Balance, u.CheckinAt, at, s.rate),
		Base:      u.Balance,
		CheckinAt: u.CheckinAt,
		At:        at,
	}, nil
}

// Checkin начисляет награду к доступному балансу и переносит дату чекина.
func (s *Service) Checkin(ctx context.Context, userID string) (CheckinResult, error) {
	const op = "balance.Checkin"
	log := s.log.With(slog.String("op", op), sl.User(userID))

	var res CheckinResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		available := Available(u.Balance, u.CheckinAt, now, s.rate)
		res = CheckinResult{
			Balance:     available.Add(s.reward).Round(balancePlaces),
			NextCheckin: now.Add(s.period),
		}
		return tx.SetCheckin(ctx, userID, res.Balance, res.NextCheckin)
	})
	if err != nil {
		return CheckinResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("checkin done", slog.String("balance", res.Balance.String()), slog.Time("next_checkin", res.NextCheckin))
	return res, nil
}

// Debit решает, можно ли списать price с пользователя в момент at, и возвращает новый базовый баланс.
// Дата чекина не меняется. Вызывается внутри транзакции покупки.
func (s *Service) Debit(u *models.User, price decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("balance.Debit: negative price %s", price)
	}
	available := Available(u.Balance, u.CheckinAt, at, s.rate)
	if available.LessThan(price) {
		return decimal.Zero, &InsufficientFundsError{Shortfall: price.Sub(available)}
	}
	return u.Balance.Sub(price), nil
}
