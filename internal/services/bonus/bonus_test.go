package bonus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/notify"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
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

func (m *NotifierMock) UserMessage(ctx context.Context, msg notify.UserMessage) {
	m.Called(ctx, msg)
}

type metricsStub struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *metricsStub) BonusOutcome(p, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, p+":"+outcome)
}

const (
	day      = 24 * time.Hour
	bonusTag = "4bingxAihermesPro"

	grantedText = "🎉 Спасибо за регистрацию на бирже BingX! 🎁 Вам начислены 4 дня подписки на AIHermesPro!"
	alreadyText = "🎉 UID BingX успешно привязан. 🎁 Бонус 4 дня уже был начислен ранее."
	reusedText  = "⚠️ UID BingX использован ранее. 🎁 Бонус в 4 дня не предоставляется."
)

var testNow = time.Date(2025, 4, 20, 9, 30, 0, 0, time.UTC)

func bingxBonus() config.Bonus {
	return config.Bonus{
		Tag:              bonusTag,
		Name:             "4 дня BingX AIHermesPro",
		SubscriptionType: "AIHermesPRO",
		Duration:         4 * day,
		BotName:          "bssbot",
		ImageURL:         "https://example.com/bonus.png",
	}
}

type fixture struct {
	store    *memory.Store
	notifier *NotifierMock
	metrics  *metricsStub
	engine   *Engine
}

func setup(t *testing.T, referrals partner.Static, opts ...memory.Option) *fixture {
	t.Helper()
	c := clock.NewFake(testNow)
	f := &fixture{
		store:    memory.New(opts...),
		notifier: new(NotifierMock),
		metrics:  &metricsStub{},
	}
	f.engine = New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		f.store,
		ledger.New(c),
		f.notifier,
		f.metrics,
		c,
		map[models.Partner]Program{
			models.PartnerBingX: {Lookup: referrals, Bonus: bingxBonus()},
		},
	)
	return f
}

func userMessage(text string) notify.UserMessage {
	return notify.UserMessage{UserID: "1", BotName: "bssbot", Text: text, ImageURL: "https://example.com/bonus.png"}
}

func history(t *testing.T, s *memory.Store, userID string) []*models.HistoryEntry {
	t.Helper()
	h, err := s.ListHistory(context.Background(), userID, 100)
	require.NoError(t, err)
	return h
}

func TestGrant_Granted(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true, KYC: true}})
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.NewFromInt(3)})
	wantEnd := testNow.Add(4 * day)

	f.notifier.On("UserMessage", mock.Anything, userMessage(grantedText)).Once()
	f.notifier.On("SubscriptionExtended", mock.Anything, notify.SubscriptionEvent{
		UserID: "1", SubscriptionType: "AIHermesPRO", EndDate: wantEnd, Source: notify.SourceBonus,
	}).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, grantedText, res.Message)
	assert.True(t, res.KYC)
	require.NotNil(t, res.EndDate)
	assert.True(t, wantEnd.Equal(*res.EndDate))

	subs := f.store.Subscriptions("1")
	require.Len(t, subs, 1)
	assert.True(t, wantEnd.Equal(*subs[0].EndDate))
	assert.False(t, subs[0].TVEndData)

	h := history(t, f.store, "1")
	require.Len(t, h, 1)
	assert.Equal(t, bonusTag, h[0].ShopID)
	assert.Equal(t, "4 дня BingX AIHermesPro", h[0].Name)
	assert.True(t, h[0].Price.IsZero())
	assert.Equal(t, "777", h[0].PartnerUID)

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	link := u.Link(models.PartnerBingX)
	assert.Equal(t, "777", link.UID)
	assert.Equal(t, models.KYCPassed, link.KYC)
	assert.True(t, link.BonusGranted)
	assert.True(t, decimal.NewFromInt(3).Equal(u.Balance))

	f.notifier.AssertExpectations(t)
	assert.Equal(t, []string{"bingx:granted"}, f.metrics.outcomes)
}

func TestGrant_StacksOnActiveSubscription(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1"})
	current := testNow.Add(10 * day)
	f.store.PutSubscription(&models.Subscription{
		ID: "sub-1", UserID: "1", SubscriptionType: "AIHermesPRO", EndDate: &current, TVEndData: true, TVStatus: "stop",
	})
	f.notifier.On("UserMessage", mock.Anything, mock.Anything).Once()
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.False(t, res.KYC)

	subs := f.store.Subscriptions("1")
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.True(t, testNow.Add(14*day).Equal(*subs[0].EndDate))
	assert.True(t, subs[0].TVEndData, "bonus keeps companion flags")
	assert.Equal(t, "stop", subs[0].TVStatus)

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, u.Link(models.PartnerBingX).KYC)
}

func TestGrant_Idempotent(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1"})
	f.notifier.On("UserMessage", mock.Anything, userMessage(grantedText)).Once()
	f.notifier.On("UserMessage", mock.Anything, userMessage(alreadyText)).Once()
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()
	ctx := context.Background()

	first, err := f.engine.Grant(ctx, "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, first.Outcome)
	endAfterFirst := *f.store.Subscriptions("1")[0].EndDate

	second, err := f.engine.Grant(ctx, "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyGranted, second.Outcome)
	assert.Equal(t, alreadyText, second.Message)
	assert.Nil(t, second.EndDate)

	assert.Len(t, history(t, f.store, "1"), 1)
	subs := f.store.Subscriptions("1")
	require.Len(t, subs, 1)
	assert.True(t, endAfterFirst.Equal(*subs[0].EndDate))
	f.notifier.AssertExpectations(t)
}

func TestGrant_AlreadyGrantedWithDifferentUID(t *testing.T) {
	f := setup(t, partner.Static{"888": {Found: true, KYC: true}})
	f.store.PutUser(&models.User{ID: "1", Partners: map[models.Partner]models.PartnerLink{
		models.PartnerBingX: {Partner: models.PartnerBingX, UID: "777", BonusGranted: true},
	}})
	f.notifier.On("UserMessage", mock.Anything, userMessage(alreadyText)).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "888")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyGranted, res.Outcome)

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "888", u.Link(models.PartnerBingX).UID)
	assert.Equal(t, models.KYCPassed, u.Link(models.PartnerBingX).KYC)
	assert.Empty(t, f.store.Subscriptions("1"))
	f.notifier.AssertExpectations(t)
}

func TestGrant_UIDUsedInOtherHistory(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1", Balance: decimal.NewFromInt(5)})
	f.store.PutUser(&models.User{ID: "2"})
	f.store.PutHistory(&models.HistoryEntry{
		UserID: "2", ShopID: bonusTag, PurchasedAt: testNow.Add(-30 * day), PartnerUID: "777",
	})
	f.notifier.On("UserMessage", mock.Anything, userMessage(reusedText)).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUIDReused, res.Outcome)
	assert.False(t, res.Taken)
	assert.Equal(t, reusedText, res.Message)

	assert.Empty(t, f.store.Subscriptions("1"))
	assert.Empty(t, history(t, f.store, "1"))
	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(u.Balance))
	assert.Equal(t, "777", u.Link(models.PartnerBingX).UID)
	assert.False(t, u.Link(models.PartnerBingX).BonusGranted)

	f.notifier.AssertNotCalled(t, "SubscriptionExtended", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestGrant_UIDTakenByOtherUser(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1"})
	f.store.PutUser(&models.User{ID: "2", Partners: map[models.Partner]models.PartnerLink{
		models.PartnerBingX: {Partner: models.PartnerBingX, UID: "777"},
	}})

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUIDReused, res.Outcome)
	assert.True(t, res.Taken)

	assert.Empty(t, f.store.Subscriptions("1"))
	assert.Empty(t, history(t, f.store, "1"))
	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "777", u.Link(models.PartnerBingX).UID)

	f.notifier.AssertNotCalled(t, "UserMessage", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SubscriptionExtended", mock.Anything, mock.Anything)
}

func TestGrant_NotEligible(t *testing.T) {
	f := setup(t, partner.Static{})
	f.store.PutUser(&models.User{ID: "1"})

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, res.Outcome)

	u, err := f.store.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, u.Partners)
	f.notifier.AssertNotCalled(t, "UserMessage", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"bingx:not_eligible"}, f.metrics.outcomes)
}

func TestGrant_Errors(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		partner models.Partner
		uid     string
		wantErr error
	}{
		{name: "unknown partner", userID: "1", partner: "okx", uid: "777", wantErr: ErrUnknownPartner},
		{name: "empty uid", userID: "1", partner: models.PartnerBingX, uid: "", wantErr: ErrEmptyUID},
		{name: "unknown user", userID: "404", partner: models.PartnerBingX, uid: "777", wantErr: storage.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, partner.Static{"777": {Found: true}})
			f.store.PutUser(&models.User{ID: "1"})

			_, err := f.engine.Grant(context.Background(), tt.userID, tt.partner, tt.uid)
			assert.ErrorIs(t, err, tt.wantErr)
			f.notifier.AssertNotCalled(t, "UserMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestGrant_RetriedTransactionGrantsOnce(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1"})
	f.store.InjectConflicts(2)
	f.notifier.On("UserMessage", mock.Anything, mock.Anything).Once()
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Len(t, history(t, f.store, "1"), 1)
	assert.Len(t, f.store.Subscriptions("1"), 1)
	f.notifier.AssertExpectations(t)
}

func TestGrant_ConcurrentSameUser(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	f.store.PutUser(&models.User{ID: "1"})
	f.notifier.On("UserMessage", mock.Anything, mock.Anything)
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeGranted])
	assert.Equal(t, workers-1, counts[OutcomeAlreadyGranted])
	assert.Len(t, history(t, f.store, "1"), 1)
	f.notifier.AssertExpectations(t)
}

func TestGrant_CustomMessages(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true}})
	b := bingxBonus()
	b.Messages.Granted = "custom"
	f.engine.programs[models.PartnerBingX] = Program{Lookup: partner.Static{"777": {Found: true}}, Bonus: b}
	f.store.PutUser(&models.User{ID: "1"})
	f.notifier.On("UserMessage", mock.Anything, userMessage("custom")).Once()
	f.notifier.On("SubscriptionExtended", mock.Anything, mock.Anything).Once()

	res, err := f.engine.Grant(context.Background(), "1", models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, "custom", res.Message)
	f.notifier.AssertExpectations(t)
}

func TestCheckReferral(t *testing.T) {
	f := setup(t, partner.Static{"777": {Found: true, KYC: true}})
	ctx := context.Background()

	ref, err := f.engine.CheckReferral(ctx, models.PartnerBingX, "777")
	require.NoError(t, err)
	assert.Equal(t, partner.Referral{Found: true, KYC: true}, ref)

	ref, err = f.engine.CheckReferral(ctx, models.PartnerBingX, "1")
	require.NoError(t, err)
	assert.False(t, ref.Found)

	_, err = f.engine.CheckReferral(ctx, models.PartnerBybit, "777")
	assert.ErrorIs(t, err, ErrUnknownPartner)

	assert.Equal(t, []models.Partner{models.PartnerBingX}, f.engine.Partners())
}

func TestFormatDays(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{1, "1 день"},
		{4, "4 дня"},
		{5, "5 дней"},
		{11, "11 дней"},
		{21, "21 день"},
		{30, "30 дней"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDays(time.Duration(tt.days)*day))
	}
}
