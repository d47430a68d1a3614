package middlewarectx_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/hermes-ledger/internal/http/middlewarectx"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doRequest(h http.Handler, remote string) int {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestRateLimitMiddleware(t *testing.T) {
	h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 0.001, 2)(okHandler)

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1000"), "other clients are not limited")
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 0, 0)(okHandler)
	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1000"))
	}
}

type recorderStub struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorderStub) HTTPRequest(route string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, route+" "+http.StatusText(code))
}

func TestMetrics_RoutePattern(t *testing.T) {
	rec := &recorderStub{}
	r := chi.NewRouter()
	r.Use(middlewarectx.Metrics(rec))
	r.Get("/api/users/{id}/balance", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/api/check-in", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/users/42/balance", nil),
		httptest.NewRequest(http.MethodPost, "/api/check-in", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []string{
		"/api/users/{id}/balance Not Found",
		"/api/check-in OK",
	}, rec.calls)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := middlewarectx.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/users/create", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "/api/users/create", entry["path"])
	assert.Equal(t, float64(http.StatusCreated), entry["status"])
	assert.Equal(t, float64(2), entry["bytes"])
}
