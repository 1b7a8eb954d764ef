package api_test

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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wsfantasy/internal/api"
	"wsfantasy/internal/auth"
	"wsfantasy/internal/config"
	"wsfantasy/internal/feed"
	"wsfantasy/internal/league"
	"wsfantasy/internal/quotes"
	"wsfantasy/internal/store"
)

type fakeAuth struct{}

func (fakeAuth) SignUp(_ context.Context, email, _ string) (auth.Session, error) {
	return auth.Session{AccessToken: "tok-new", User: auth.SupabaseUser{ID: "new", Email: email}}, nil
}

func (fakeAuth) Login(_ context.Context, email, password string) (auth.Session, error) {
	if password != "pw" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: "tok-u1", User: auth.SupabaseUser{ID: "u1", Email: email}}, nil
}

func (fakeAuth) Logout(context.Context, string) error { return nil }

func (fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.SupabaseUser, error) {
	if !strings.HasPrefix(token, "tok-") {
		return auth.SupabaseUser{}, auth.ErrInvalidCredentials
	}
	id := strings.TrimPrefix(token, "tok-")
	return auth.SupabaseUser{ID: id, Email: id + "@example.com"}, nil
}

type fakeQuotes struct{}

func (fakeQuotes) Quote(_ context.Context, symbol string) (quotes.Quote, error) {
	if symbol != "AAPL" {
		return quotes.Quote{}, quotes.ErrQuoteUnavailable
	}
	return quotes.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(190)}, nil
}

func (fakeQuotes) Search(_ context.Context, q string) ([]quotes.SearchResult, error) {
	return []quotes.SearchResult{{Symbol: "AAPL", Description: "APPLE INC"}}, nil
}

func (fakeQuotes) Profile(context.Context, string) (quotes.Profile, error) {
	return quotes.Profile{}, nil
}

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := league.NewService(store.NewMemory(), nil, logger)
	hub := feed.NewHub(logger)
	t.Cleanup(hub.Close)
	return api.New(config.APIConfig{}, logger, fakeAuth{}, svc, fakeQuotes{}, hub).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	}
	return rec.Code, out
}

func createLeague(t *testing.T, h http.Handler, token string, balance string) (string, string) {
	t.Helper()
	code, out := do(t, h, http.MethodPost, "/v1/leagues", token, map[string]any{
		"name":             "Desk",
		"starting_balance": balance,
	})
	require.Equal(t, http.StatusCreated, code, "%v", out)
	lg := out["league"].(map[string]any)
	inv := out["invite"].(map[string]any)
	return lg["id"].(string), inv["invite_code"].(string)
}

func TestHealthz(t *testing.T) {
	h := setupServer(t)
	code, out := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["ok"])
}

func TestRequiresBearerToken(t *testing.T) {
	h := setupServer(t)
	code, out := do(t, h, http.MethodGet, "/v1/dashboard", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "missing bearer token", out["error"])

	code, _ = do(t, h, http.MethodGet, "/v1/dashboard", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLogin(t *testing.T) {
	h := setupServer(t)
	code, out := do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "a@b.c", "password": "pw"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "tok-u1", out["access_token"])

	code, _ = do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "a@b.c", "password": "bad"})
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestTradeFlow(t *testing.T) {
	h := setupServer(t)
	leagueID, _ := createLeague(t, h, "tok-u1", "1000")
	path := "/v1/leagues/" + leagueID + "/trade"

	code, out := do(t, h, http.MethodPost, path, "tok-u1", map[string]any{
		"symbol": "aapl", "trade_type": "buy", "shares": 5, "price_per_share": 100,
	})
	require.Equal(t, http.StatusOK, code, "%v", out)
	require.Equal(t, true, out["success"])
	trade := out["trade"].(map[string]any)
	require.Equal(t, "AAPL", trade["symbol"])
	require.Equal(t, "buy", trade["trade_type"])
	require.Equal(t, "completed", trade["status"])
	require.Equal(t, "500", trade["total_amount"])

	code, out = do(t, h, http.MethodPost, path, "tok-u1", map[string]any{
		"symbol": "AAPL", "trade_type": "buy", "shares": 5, "price_per_share": 120,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, out["error"], "insufficient funds")

	code, out = do(t, h, http.MethodGet, "/v1/leagues/"+leagueID+"/portfolio", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	member := out["member"].(map[string]any)
	require.Equal(t, "500", member["cash_balance"])
	holdings := out["holdings"].([]any)
	require.Len(t, holdings, 1)
	require.Equal(t, "100", holdings[0].(map[string]any)["average_cost"])

	code, out = do(t, h, http.MethodGet, "/v1/leagues/"+leagueID+"/trades", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["trades"], 1)
}

func TestTradeErrors(t *testing.T) {
	h := setupServer(t)
	leagueID, _ := createLeague(t, h, "tok-u1", "1000")
	path := "/v1/leagues/" + leagueID + "/trade"

	tests := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"not a member", "tok-u2", map[string]any{"symbol": "AAPL", "trade_type": "buy", "shares": 1, "price_per_share": 1}, http.StatusForbidden},
		{"unknown field", "tok-u1", map[string]any{"symbol": "AAPL", "trade_type": "buy", "shares": 1, "price_per_share": 1, "total": 1}, http.StatusBadRequest},
		{"malformed json", "tok-u1", `{"symbol":`, http.StatusBadRequest},
		{"bad side", "tok-u1", map[string]any{"symbol": "AAPL", "trade_type": "hold", "shares": 1, "price_per_share": 1}, http.StatusBadRequest},
		{"zero shares", "tok-u1", map[string]any{"symbol": "AAPL", "trade_type": "buy", "shares": 0, "price_per_share": 1}, http.StatusBadRequest},
		{"bad symbol", "tok-u1", map[string]any{"symbol": "??", "trade_type": "buy", "shares": 1, "price_per_share": 1}, http.StatusBadRequest},
		{"oversell", "tok-u1", map[string]any{"symbol": "AAPL", "trade_type": "sell", "shares": 1, "price_per_share": 1}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		code, out := do(t, h, http.MethodPost, path, tc.token, tc.body)
		require.Equal(t, tc.want, code, "%s: %v", tc.name, out)
		require.NotEmpty(t, out["error"], tc.name)
	}

	code, _ := do(t, h, http.MethodPost, "/v1/leagues/missing/trade", "tok-u1", map[string]any{"symbol": "AAPL", "trade_type": "buy", "shares": 1, "price_per_share": 1})
	require.Equal(t, http.StatusNotFound, code)
}

func TestTradeReplayWithSameIdempotencyKey(t *testing.T) {
	h := setupServer(t)
	leagueID, _ := createLeague(t, h, "tok-u1", "1000")
	path := "/v1/leagues/" + leagueID + "/trade"
	body := map[string]any{"symbol": "AAPL", "trade_type": "buy", "shares": 1, "price_per_share": 10}

	code, _ := do(t, h, http.MethodPost, path, "tok-u1", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, h, http.MethodPost, path, "tok-u1", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, code)
}

func TestJoinAndLeaderboard(t *testing.T) {
	h := setupServer(t)
	leagueID, invite := createLeague(t, h, "tok-u1", "1000")

	code, out := do(t, h, http.MethodPost, "/v1/leagues/join", "tok-u2", map[string]any{"invite_code": invite})
	require.Equal(t, http.StatusCreated, code, "%v", out)

	code, _ = do(t, h, http.MethodPost, "/v1/leagues/join", "tok-u2", map[string]any{"invite_code": invite})
	require.Equal(t, http.StatusConflict, code)

	code, _ = do(t, h, http.MethodPost, "/v1/leagues/join", "tok-u3", map[string]any{"invite_code": "ZZZZZZZZ"})
	require.Equal(t, http.StatusNotFound, code)

	code, out = do(t, h, http.MethodGet, "/v1/leagues/"+leagueID+"/leaderboard", "tok-u2", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["leaderboard"], 2)

	code, out = do(t, h, http.MethodGet, "/v1/dashboard", "tok-u2", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["memberships"], 1)
}

func TestStartAndDeleteLeague(t *testing.T) {
	h := setupServer(t)
	leagueID, invite := createLeague(t, h, "tok-u1", "1000")
	code, _ := do(t, h, http.MethodPost, "/v1/leagues/join", "tok-u2", map[string]any{"invite_code": invite})
	require.Equal(t, http.StatusCreated, code)

	code, _ = do(t, h, http.MethodPost, "/v1/leagues/"+leagueID+"/start", "tok-u2", nil)
	require.Equal(t, http.StatusForbidden, code)

	code, out := do(t, h, http.MethodPost, "/v1/leagues/"+leagueID+"/start", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "active", out["league"].(map[string]any)["status"])

	code, _ = do(t, h, http.MethodDelete, "/v1/leagues/"+leagueID, "tok-u2", nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = do(t, h, http.MethodDelete, "/v1/leagues/"+leagueID, "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, h, http.MethodGet, "/v1/leagues/"+leagueID, "tok-u1", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestStocksEndpoints(t *testing.T) {
	h := setupServer(t)

	code, out := do(t, h, http.MethodGet, "/v1/stocks/quote?symbol=aapl", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "AAPL", out["symbol"])
	require.Equal(t, "190", out["price"])

	code, _ = do(t, h, http.MethodGet, "/v1/stocks/quote", "tok-u1", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodGet, "/v1/stocks/quote?symbol=MSFT", "tok-u1", nil)
	require.Equal(t, http.StatusBadGateway, code)

	code, out = do(t, h, http.MethodGet, "/v1/stocks/search?q=apple", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["results"], 1)

	code, out = do(t, h, http.MethodGet, "/v1/stocks/search", "tok-u1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, out["results"])
}
