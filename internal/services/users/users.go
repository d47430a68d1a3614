// Package users создание начальной записи пользователя.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/clock"
	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

// Creator хранилище пользователей.
type Creator interface {
	CreateUser(ctx context.Context, user *models.User) error
}

// Service пользователи.
type Service struct {
	log   *slog.Logger
	store Creator
	clock clock.Clock
}

// New создаёт Service.
func New(log *slog.Logger, store Creator, c clock.Clock) *Service {
	if c == nil {
		c = clock.System{}
	}
	return &Service{log: log, store: store, clock: c}
}

// Create создаёт пользователя с нулевым балансом. Существующий пользователь не ошибка, created=false.
func (s *Service) Create(ctx context.Context, userID string) (bool, error) {
	const op = "users.Create"
	log := s.log.With(slog.String("op", op), sl.User(userID))

	err := s.store.CreateUser(ctx, &models.User{
		ID:        userID,
		Balance:   decimal.Zero,
		CreatedAt: s.clock.Now(),
	})
	if errors.Is(err, storage.ErrUserExists) {
		log.Info("user already exists")
		return false, nil
	}
	if err != nil {
		log.Error("failed to create user", sl.Err(err))
		return false, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user created")
	return true, nil
}
