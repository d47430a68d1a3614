package view

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hermes-ledger/internal/services/balance"
	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) AvailableBalance(ctx context.Context, userID string) (balance.View, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(balance.View), args.Error(1)
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/api/users/{id}/balance", New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc))
	return r
}

func TestViewHandler(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	checkin := at.Add(time.Hour)

	tests := []struct {
		name           string
		id             string
		view           balance.View
		err            error
		callService    bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "success",
			id:   "7",
			view: balance.View{
				UserID: "7", Available: decimal.RequireFromString("9.9136"), Base: decimal.NewFromInt(10),
				CheckinAt: &checkin, At: at,
			},
			callService:    true,
			expectedStatus: http.StatusOK,
			expectedBody:   `"available_balance":"9.9136"`,
		},
		{
			name:           "not found",
			id:             "7",
			err:            storage.ErrUserNotFound,
			callService:    true,
			expectedStatus: http.StatusNotFound,
			expectedBody:   `user not found`,
		},
		{
			name:           "failure",
			id:             "7",
			err:            errors.New("db down"),
			callService:    true,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `internal error`,
		},
		{
			name:           "bad id",
			id:             "abc",
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `invalid user id`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.callService {
				svc.On("AvailableBalance", mock.Anything, tt.id).Return(tt.view, tt.err).Once()
			}

			req := httptest.NewRequest(http.MethodGet, "/api/users/"+tt.id+"/balance", nil)
			w := httptest.NewRecorder()
			newRouter(svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

func TestViewHandler_OmitsMessage(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("AvailableBalance", mock.Anything, "7").Return(balance.View{UserID: "7"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users/7/balance", nil)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "success", got["status"])
	assert.NotContains(t, got, "message")
	data := got["data"].(map[string]any)
	assert.NotContains(t, data, "checkin_date")
}
