package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/leagues/lg-1/trade", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "buy", body["trade_type"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"trade":{"id":"t-1","symbol":"AAPL","trade_type":"buy","shares":"5","price_per_share":"100","total_amount":"500"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	out, err := c.Trade(context.Background(), "tok", "lg-1", "idem-1", TradeRequest{
		Symbol:        "AAPL",
		TradeType:     "buy",
		Shares:        decimal.NewFromInt(5),
		PricePerShare: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "t-1", out.Trade.ID)
	require.True(t, out.Trade.TotalAmount.Equal(decimal.NewFromInt(500)))
}

func TestStructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Portfolio(context.Background(), "tok", "lg-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "insufficient funds", apiErr.Message)
	require.True(t, IsRejected(err))

	require.False(t, IsRejected(&APIError{Status: http.StatusBadGateway}))
	require.False(t, IsRejected(errors.New("connection refused")))
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("WSF_HOME", t.TempDir())

	_, err := LoadSession()
	require.Error(t, err)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", Email: "a@b.c", UserID: "u1", LeagueID: "lg-1"}))
	s, err := LoadSession()
	require.NoError(t, err)
	require.Equal(t, "lg-1", s.LeagueID)

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
	_, err = LoadSession()
	require.Error(t, err)
}
