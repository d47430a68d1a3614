package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	TelegramID string `json:"telegram_id" validate:"required,numeric"`
	ShopID     string `json:"shop_id" validate:"required,max=8"`
}

func TestValidationError(t *testing.T) {
	err := validator.New().Struct(request{TelegramID: "abc", ShopID: "very-long-shop-id"})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "field TelegramID can contain only numbers, field ShopID is too long", resp.Message)

	err = validator.New().Struct(request{})
	resp = ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, "field TelegramID is a required field, field ShopID is a required field", resp.Message)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusPaymentRequired, Error("no money"))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, map[string]any{"status": "error", "message": "no money"}, got)
}

func TestOK(t *testing.T) {
	resp := OK("done", map[string]any{"a": 1})
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "done", resp.Message)
	assert.NotNil(t, resp.Data)
}
