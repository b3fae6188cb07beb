package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	memcache "github.com/alanyoungcy/lmsrmarket/internal/cache/memory"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/ws"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
	memstore "github.com/alanyoungcy/lmsrmarket/internal/store/memory"
)

const adminKey = "admin-secret"

type testAPI struct {
	srv *httptest.Server
	hub *ws.Hub
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	cache := memcache.NewMarketCache(time.Minute)
	bus := memcache.NewSignalBus()
	locker := amm.NewKeyedLocker()
	book := amm.NewPositionBook()

	markets := service.NewMarketService(store, cache, bus, nil, nil, logger)
	trading := service.NewTradingService(store, locker, markets, cache, bus, nil, book, logger)
	resolution := service.NewResolutionService(store, locker, cache, bus, nil, nil, nil, logger)
	users := service.NewUserService(store, locker, book, nil, service.DefaultBonusPolicy, 0, logger)

	hub := ws.NewHub(bus, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	cfg.AdminKey = adminKey
	h := NewHandler(cfg, Handlers{
		Health:  handler.NewHealthHandler("server", logger),
		Markets: handler.NewMarketHandler(markets, trading, resolution, logger),
		Bets:    handler.NewBetHandler(trading, logger),
		Users:   handler.NewUserHandler(users, logger),
	}, memcache.NewRateLimiter(), hub, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		var list []any
		require.NoError(t, json.Unmarshal(raw, &list))
		out["items"] = list
	}
	return resp.StatusCode, out
}

func (a *testAPI) createMarket(t *testing.T) string {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/admin/markets",
		map[string]any{"title": "Will it rain?", "liquidity": 100},
		"Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "0.5", body["price_yes"])
	return body["id"].(string)
}

func (a *testAPI) register(t *testing.T, name string) string {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/users", map[string]any{"username": name, "password": "hunter22"})
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "100", body["balance"])
	return body["id"].(string)
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t, Config{})
	status, body := api.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestAPI_AdminRequiresKey(t *testing.T) {
	api := newTestAPI(t, Config{})

	status, body := api.do(t, http.MethodPost, "/api/admin/markets", map[string]any{"title": "x"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", body["error"])

	status, _ = api.do(t, http.MethodPost, "/api/admin/markets", map[string]any{"title": "x"},
		"X-API-Key", "wrong")
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = api.do(t, http.MethodPost, "/api/admin/markets", map[string]any{"title": "x"},
		"X-API-Key", adminKey)
	require.Equal(t, http.StatusCreated, status)
}

func TestAPI_TradeAndResolveFlow(t *testing.T) {
	api := newTestAPI(t, Config{})
	marketID := api.createMarket(t)
	alice := api.register(t, "alice")
	bob := api.register(t, "bob")

	status, quote := api.do(t, http.MethodGet, "/api/markets/"+marketID+"/quote?side=yes&amount=10", nil)
	require.Equal(t, http.StatusOK, status, quote)
	require.True(t, strings.HasPrefix(quote["cost"].(string), "5.12"), quote["cost"])

	status, fill := api.do(t, http.MethodPost, "/api/bets",
		map[string]any{"user_id": alice, "market_id": marketID, "side": "YES", "amount": 10})
	require.Equal(t, http.StatusCreated, status, fill)
	require.Equal(t, quote["cost"], fill["bet"].(map[string]any)["total_cost"])
	require.True(t, strings.HasPrefix(fill["price_yes"].(string), "0.5249"), fill["price_yes"])

	status, _ = api.do(t, http.MethodPost, "/api/bets",
		map[string]any{"user_id": bob, "market_id": marketID, "side": "no", "amount": 5})
	require.Equal(t, http.StatusCreated, status)

	status, body := api.do(t, http.MethodPost, "/api/admin/markets/"+marketID+"/resolve",
		map[string]any{"outcome": "yes"}, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "10", body["total"])
	market := body["market"].(map[string]any)
	require.Equal(t, "1", market["price_yes"])
	require.Equal(t, "0", market["price_no"])

	status, body = api.do(t, http.MethodPost, "/api/admin/markets/"+marketID+"/resolve",
		map[string]any{"outcome": "NO"}, "X-API-Key", adminKey)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "already_resolved", body["error"])

	status, body = api.do(t, http.MethodPost, "/api/bets",
		map[string]any{"user_id": bob, "market_id": marketID, "side": "NO", "amount": 1})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "market_closed", body["error"])

	status, body = api.do(t, http.MethodGet, "/api/users/"+alice+"/ledger", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 3)

	status, body = api.do(t, http.MethodGet, "/api/users/"+alice+"/positions", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 1)

	status, body = api.do(t, http.MethodGet, "/api/markets/"+marketID+"/history", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 2)
}

func TestAPI_ErrorKinds(t *testing.T) {
	api := newTestAPI(t, Config{})
	marketID := api.createMarket(t)
	user := api.register(t, "carol")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown market", http.MethodGet, "/api/markets/nope", nil, http.StatusNotFound, "market_not_found"},
		{"unknown user", http.MethodGet, "/api/users/nope", nil, http.StatusNotFound, "user_not_found"},
		{"bad side", http.MethodGet, "/api/markets/" + marketID + "/quote?side=maybe&amount=1", nil, http.StatusBadRequest, "invalid_side"},
		{"bad amount", http.MethodGet, "/api/markets/" + marketID + "/quote?side=yes&amount=-1", nil, http.StatusBadRequest, "invalid_amount"},
		{"unparseable amount", http.MethodGet, "/api/markets/" + marketID + "/quote?side=yes&amount=abc", nil, http.StatusBadRequest, "invalid_amount"},
		{"insufficient funds", http.MethodPost, "/api/bets",
			map[string]any{"user_id": user, "market_id": marketID, "side": "YES", "amount": 1000},
			http.StatusBadRequest, "insufficient_funds"},
		{"missing fields", http.MethodPost, "/api/bets", map[string]any{"side": "YES"}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", http.MethodPost, "/api/users", map[string]any{"username": "dave", "password": "hunter22", "admin": true},
			http.StatusBadRequest, "invalid_request"},
		{"duplicate username", http.MethodPost, "/api/users", map[string]any{"username": "CAROL", "password": "hunter22"},
			http.StatusConflict, "username_taken"},
		{"bad login", http.MethodPost, "/api/login", map[string]any{"username": "carol", "password": "nope"},
			http.StatusUnauthorized, "invalid_credentials"},
		{"bad window", http.MethodGet, "/api/users/" + user + "/bets?since=yesterday", nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, status, body)
			require.Equal(t, tt.kind, body["error"])
			require.NotEmpty(t, body["message"])
		})
	}
}

func TestAPI_BonusAndLogin(t *testing.T) {
	api := newTestAPI(t, Config{})
	user := api.register(t, "erin")

	status, body := api.do(t, http.MethodPost, "/api/login", map[string]any{"username": "erin", "password": "hunter22"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, user, body["id"])
	require.NotEmpty(t, body["last_login"])

	status, body = api.do(t, http.MethodPost, "/api/users/"+user+"/bonus", nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "110", body["user"].(map[string]any)["balance"])

	status, body = api.do(t, http.MethodPost, "/api/users/"+user+"/bonus", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "bonus_not_ready", body["error"])
}

func TestAPI_RateLimit(t *testing.T) {
	api := newTestAPI(t, Config{RateLimit: 2, RateLimitWindow: time.Minute})
	for i := 0; i < 2; i++ {
		status, _ := api.do(t, http.MethodGet, "/api/health", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := api.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "rate_limited", body["error"])
}

func TestAPI_CORSPreflight(t *testing.T) {
	api := newTestAPI(t, Config{CORSOrigins: []string{"https://app.example"}})
	req, err := http.NewRequest(http.MethodOptions, api.srv.URL+"/api/bets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_WebSocketRelaysTrades(t *testing.T) {
	api := newTestAPI(t, Config{})
	marketID := api.createMarket(t)
	user := api.register(t, "frank")

	wsURL := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/ws?market=" + marketID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello["type"])

	// Registration is asynchronous; keep trading until an event arrives.
	events := make(chan map[string]any, 1)
	go func() {
		var evt map[string]any
		if conn.ReadJSON(&evt) == nil {
			events <- evt
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		status, _ := api.do(t, http.MethodPost, "/api/bets",
			map[string]any{"user_id": user, "market_id": marketID, "side": "YES", "amount": 1})
		require.Equal(t, http.StatusCreated, status)
		select {
		case evt := <-events:
			require.Equal(t, "trade", evt["type"])
			require.Equal(t, marketID, evt["market_id"])
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no trade event received")
		}
	}
}
