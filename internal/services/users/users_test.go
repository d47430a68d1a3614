package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage/memory"
)

type CreatorMock struct {
	mock.Mock
}

func (m *CreatorMock) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Create(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New()
	s := New(newNoopLogger(), store, clock.NewFake(now))
	ctx := context.Background()

	created, err := s.Create(ctx, "42")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Create(ctx, "42")
	require.NoError(t, err)
	assert.False(t, created)

	u, err := store.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())
	assert.Nil(t, u.CheckinAt)
	assert.True(t, now.Equal(u.CreatedAt))
}

func TestService_Create_StoreError(t *testing.T) {
	m := new(CreatorMock)
	m.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool { return u.ID == "42" })).
		Return(errors.New("connection reset"))

	_, err := New(newNoopLogger(), m, nil).Create(context.Background(), "42")
	assert.Error(t, err)
	m.AssertExpectations(t)
}

func TestService_Create_EmptyID(t *testing.T) {
	_, err := New(newNoopLogger(), memory.New(), nil).Create(context.Background(), "")
	assert.Error(t, err)
}
