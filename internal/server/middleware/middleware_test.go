package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		want   int
	}{
		{"disabled", "", map[string]string{APIKeyHeader: "x"}, http.StatusForbidden},
		{"missing", "secret", nil, http.StatusUnauthorized},
		{"wrong", "secret", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"header", "secret", map[string]string{APIKeyHeader: "secret"}, http.StatusOK},
		{"bearer", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/verify", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			RequireAPIKey(tt.key)(ok()).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var seen string
	h := Logging(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", seen)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.fairstake.io"})(ok())

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://app.fairstake.io")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.fairstake.io", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Wallet-Address")

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type countingLimiter struct {
	keys []string
	err  error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	c.keys = append(c.keys, key)
	if c.err != nil {
		return false, c.err
	}
	n := 0
	for _, k := range c.keys {
		if k == key {
			n++
		}
	}
	return n <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, 2, time.Second, discard)(ok())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "api:ip:10.0.0.1", lim.keys[0])

	req := httptest.NewRequest(http.MethodPost, "/api/stakes/1/refund", nil)
	req.Header.Set("X-Wallet-Address", "0xABCDEF0000000000000000000000000000000001")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "api:wallet:0xabcdef0000000000000000000000000000000001", lim.keys[len(lim.keys)-1])

	failing := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Second, discard)(ok())
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
