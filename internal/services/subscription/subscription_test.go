package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hermes-ledger/internal/catalog"
	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage/memory"
)

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) SubscriptionExtended(ctx context.Context, e notify.SubscriptionEvent) {
	m.Called(ctx, e)
}

type metricsStub struct {
	statuses []string
}

func (m *metricsStub) Purchase(status string) {
	m.statuses = append(m.statuses, status)
}

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	store    *memory.Store
	notifier *NotifierMock
	metrics  *metricsStub
	service  *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := clock.NewFake(testNow)
	store := memory.New()
	store.PutShopItem(&models.ShopItem{
		ID:               "aihermes_pro_30",
		Name:             "AIHermesPRO 30 дней",
		Price:            decimal.RequireFromString("4.0"),
		DurationDays:     30,
		SubscriptionType: "AIHermesPRO",
	})

	bal, err := balance.New(log, store, c, config.Ledger{
		DecayRate:     "0.000024",
		CheckinReward: "2.0736",
		CheckinPeriod: day,
	})
	require.NoError(t, err)

	f := &fixture{store: store, notifier: new(NotifierMock), metrics: &metricsStub{}}
	f.service = New(log, store, catalog.New(log, store, nil, 0), ledger.New(c), bal, f.notifier, f.metrics)
	return f
}

func TestPurchase_NewSubscription(t *testing.T) {
	f := setup(t)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.RequireFromString("10.0")})
	wantEnd := testNow.Add(30 * day)
	f.notifier.On("SubscriptionExtended", mock.Anything, notify.SubscriptionEvent{
		UserID: "1", SubscriptionType: "AIHermesPRO", EndDate: wantEnd, Source: notify.SourcePurchase,
	}).Once()

	res, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	require.NoError(t, err)
	assert.Equal(t, SuccessMessage, res.Message)
	assert.True(t, wantEnd.Equal(res.EndDate))
	assert.True(t, decimal.NewFromInt(6).Equal(res.Balance))

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(u.Balance))

	subs := f.store.Subscriptions("1")
	require.Len(t, subs, 1)
	assert.True(t, wantEnd.Equal(*subs[0].EndDate))
	assert.False(t, subs[0].TVEndData)
	assert.Equal(t, models.TVStatusStart, subs[0].TVStatus)

	history, err := f.store.ListHistory(context.Background(), "1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, decimal.NewFromInt(4).Equal(history[0].Price))
	assert.Equal(t, "aihermes_pro_30", history[0].ShopID)
	assert.Equal(t, "AIHermesPRO", history[0].SubscriptionType)
	assert.Empty(t, history[0].PartnerUID)

	f.notifier.AssertExpectations(t)
	assert.Equal(t, []string{StatusSuccess}, f.metrics.statuses)
}

func TestPurchase_ExtendsInPlace(t *testing.T) {
	f := setup(t)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.RequireFromString("10.0")})
	current := testNow.Add(5 * day)
	f.store.PutSubscription(&models.Subscription{
		ID: "sub-1", UserID: "1", SubscriptionType: "AIHermesPRO", EndDate: &current,
		TVEndData: true, TVStatus: "stop",
	})
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	require.NoError(t, err)
	assert.True(t, testNow.Add(35*day).Equal(res.EndDate))

	subs := f.store.Subscriptions("1")
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.True(t, testNow.Add(35*day).Equal(*subs[0].EndDate))
	assert.False(t, subs[0].TVEndData)
	assert.Equal(t, models.TVStatusStart, subs[0].TVStatus)
}

func TestPurchase_ExpiredSubscriptionResets(t *testing.T) {
	f := setup(t)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.RequireFromString("10.0")})
	past := testNow.Add(-3 * day)
	f.store.PutSubscription(&models.Subscription{ID: "sub-1", UserID: "1", SubscriptionType: "AIHermesPRO", EndDate: &past})
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	require.NoError(t, err)
	assert.True(t, testNow.Add(30*day).Equal(res.EndDate))
	assert.Len(t, f.store.Subscriptions("1"), 1)
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	checkin := testNow.Add(time.Hour)

	tests := []struct {
		name    string
		user    *models.User
		wantMsg string
	}{
		{
			name:    "plain balance",
			user:    &models.User{ID: "1", Balance: decimal.RequireFromString("1.5")},
			wantMsg: "Недостаточно средств. Не хватает 2.50 USDT.",
		},
		{
			name:    "decayed below price",
			user:    &models.User{ID: "1", Balance: decimal.RequireFromString("4.0"), CheckinAt: &checkin},
			wantMsg: "Недостаточно средств. Не хватает 0.09 USDT.",
		},
		{
			name:    "short by less than a cent",
			user:    &models.User{ID: "1", Balance: decimal.RequireFromString("3.996")},
			wantMsg: "Недостаточно средств. Не хватает 0.01 USDT.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.store.PutUser(tt.user)

			_, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
			var insufficient *balance.InsufficientFundsError
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, tt.wantMsg, insufficient.Error())
			assert.True(t, insufficient.Shortfall.IsPositive())

			u, err := f.store.GetUser(context.Background(), "1")
			require.NoError(t, err)
			assert.True(t, tt.user.Balance.Equal(u.Balance))
			assert.Empty(t, f.store.Subscriptions("1"))
			history, err := f.store.ListHistory(context.Background(), "1", 10)
			require.NoError(t, err)
			assert.Empty(t, history)

			f.notifier.AssertNotCalled(t, "SubscriptionExtended", mock.Anything, mock.Anything)
			assert.Equal(t, []string{StatusInsufficientFunds}, f.metrics.statuses)
		})
	}
}

func TestPurchase_DecayKeepsCheckin(t *testing.T) {
	f := setup(t)
	checkin := testNow.Add(time.Hour)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.RequireFromString("10.0"), CheckinAt: &checkin})
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(res.Balance))

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, u.CheckinAt)
	assert.True(t, checkin.Equal(*u.CheckinAt))
}

func TestPurchase_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		shopID  string
		wantErr error
	}{
		{name: "unknown shop item", userID: "1", shopID: "missing", wantErr: storage.ErrShopItemNotFound},
		{name: "unknown user", userID: "404", shopID: "aihermes_pro_30", wantErr: storage.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.store.PutUser(&models.User{ID: "1", Balance: decimal.NewFromInt(10)})

			_, err := f.service.Purchase(context.Background(), tt.userID, tt.shopID)
			assert.ErrorIs(t, err, tt.wantErr)
			f.notifier.AssertNotCalled(t, "SubscriptionExtended", mock.Anything, mock.Anything)
			assert.Equal(t, []string{StatusNotFound}, f.metrics.statuses)
		})
	}
}

func TestPurchase_RetriedOnConflict(t *testing.T) {
	f := setup(t)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.NewFromInt(10)})
	f.store.InjectConflicts(2)
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	_, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	require.NoError(t, err)

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(u.Balance))
	assert.Len(t, f.store.Subscriptions("1"), 1)
	history, err := f.store.ListHistory(context.Background(), "1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	f.notifier.AssertExpectations(t)
}

func TestPurchase_RetriesExhausted(t *testing.T) {
	f := setup(t)
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.NewFromInt(10)})
	f.store.InjectConflicts(100)

	_, err := f.service.Purchase(context.Background(), "1", "aihermes_pro_30")
	assert.True(t, errors.Is(err, storage.ErrTxRetriesExhausted))
	f.notifier.AssertNotCalled(t, "SubscriptionExtended", mock.Anything, mock.Anything)
	assert.Equal(t, []string{StatusError}, f.metrics.statuses)
}
