// Package feed pushes settled trades to websocket clients watching a league.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wsfantasy/internal/league"
	"wsfantasy/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

const EventTradeSettled = "trade.settled"

type Event struct {
	Type     string        `json:"type"`
	LeagueID string        `json:"league_id"`
	UserID   string        `json:"user_id,omitempty"`
	Trade    *league.Trade `json:"trade,omitempty"`
	At       time.Time     `json:"at"`
}

type client struct {
	conn     *websocket.Conn
	leagueID string
	send     chan []byte
	once     sync.Once
}

// Hub fans events out to the clients subscribed to each league. Publish
// never blocks; a client whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	leagues  map[string]map[*client]struct{}
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		leagues: map[string]map[*client]struct{}{},
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and subscribes the connection to leagueID.
// Callers must have authorized the request already.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, leagueID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, leagueID: leagueID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	subs, ok := h.leagues[leagueID]
	if !ok {
		subs = map[*client]struct{}{}
		h.leagues[leagueID] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()
	metrics.FeedClients.Inc()
	h.log.Debug("feed client connected", "league_id", leagueID)

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		if subs, ok := h.leagues[c.leagueID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.leagues, c.leagueID)
			}
		}
		h.mu.Unlock()
		close(c.send)
		metrics.FeedClients.Dec()
	})
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("feed marshal failed", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.leagues[ev.LeagueID] {
		select {
		case c.send <- data:
		default:
			h.log.Warn("feed client too slow, dropping event", "league_id", ev.LeagueID)
		}
	}
}

// PublishTrade announces a settled trade to the league's subscribers.
func (h *Hub) PublishTrade(leagueID, userID string, t league.Trade) {
	h.Publish(Event{Type: EventTradeSettled, LeagueID: leagueID, UserID: userID, Trade: &t, At: t.ExecutedAt})
}

// Clients returns how many connections watch leagueID.
func (h *Hub) Clients(leagueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.leagues[leagueID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, subs := range h.leagues {
		for c := range subs {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}
