package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wsfantasy/internal/league"
)

func dialLeague(t *testing.T, hub *Hub, leagueID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, leagueID); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients(leagueID) >= 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHubDeliversTradesToLeagueSubscribers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	conn := dialLeague(t, hub, "lg-1")

	hub.PublishTrade("lg-2", "u9", league.Trade{ID: "other"})
	hub.PublishTrade("lg-1", "u1", league.Trade{
		ID:            "t-1",
		Symbol:        "AAPL",
		Side:          league.SideBuy,
		Shares:        decimal.NewFromInt(5),
		PricePerShare: decimal.NewFromInt(100),
		ExecutedAt:    time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, EventTradeSettled, ev.Type)
	require.Equal(t, "lg-1", ev.LeagueID)
	require.Equal(t, "u1", ev.UserID)
	require.NotNil(t, ev.Trade)
	require.Equal(t, "t-1", ev.Trade.ID)
	require.True(t, ev.Trade.Shares.Equal(decimal.NewFromInt(5)))
}

func TestHubDropsClosedClients(t *testing.T) {
	hub := NewHub(nil)
	conn := dialLeague(t, hub, "lg-1")
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients("lg-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
