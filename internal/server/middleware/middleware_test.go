package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("k")(okHandler)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer k", http.StatusOK},
		{"bearer lowercase scheme", "Authorization", "bearer k", http.StatusOK},
		{"api key", "X-API-Key", "k", http.StatusOK},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic k", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/markets", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, domain.ErrorKind(domain.ErrUnauthorized), body["error"])
				require.Contains(t, body["message"], "authentication token")
			}
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deny := &stubLimiter{allow: false}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	RateLimit(deny, 1, 30*time.Second, logger)(okHandler).ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
	require.Equal(t, []string{"api:203.0.113.7"}, deny.keys)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "rate_limited", body["error"])
	require.Equal(t, "rate limited: 1 requests per 30s", body["message"])

	broken := &stubLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	RateLimit(broken, 1, time.Second, logger)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	off := &stubLimiter{}
	rec = httptest.NewRecorder()
	RateLimit(off, 0, time.Second, logger)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, off.keys)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	require.Equal(t, "192.0.2.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", extractClientIP(req))
}

func TestLogging_CapturesStatusAndRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	})

	rec := httptest.NewRecorder()
	Logging(logger)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.EqualValues(t, 418, line["status"])
	require.EqualValues(t, 3, line["bytes"])
	require.Equal(t, "GET /api/markets/{id}", line["route"])
	require.Equal(t, "/api/markets/m1", line["path"])
	require.Equal(t, rec.Header().Get(RequestIDHeader), line["request_id"])
	require.NotEmpty(t, line["request_id"])
}

func TestLogging_RequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "trace-42", seen)
	require.Equal(t, "trace-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 36)
	require.NotEqual(t, "trace-42", seen)
}

func TestLevelFor(t *testing.T) {
	require.Equal(t, slog.LevelInfo, levelFor(http.StatusNotFound))
	require.Equal(t, slog.LevelWarn, levelFor(http.StatusTooManyRequests))
	require.Equal(t, slog.LevelWarn, levelFor(http.StatusUnauthorized))
	require.Equal(t, slog.LevelError, levelFor(http.StatusBadGateway))
}

func TestCORS(t *testing.T) {
	var reached int
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	})
	h := CORS([]string{"https://Markets.example/"})(next)

	preflight := httptest.NewRequest(http.MethodOptions, "/api/bets", nil)
	preflight.Header.Set("Origin", "https://markets.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://markets.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, corsMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	require.Zero(t, reached)

	get := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	get.Header.Set("Origin", "https://markets.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, corsExposed, rec.Header().Get("Access-Control-Expose-Headers"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	require.Equal(t, "Origin", rec.Header().Get("Vary"))

	other := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	other.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, 2, reached)
}

func TestCORS_EmptyListAllowsAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	CORS(nil)(okHandler).ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
