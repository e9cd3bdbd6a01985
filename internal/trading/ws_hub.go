// Package trading — WebSocket hub for the real-time price feed.
package trading

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/batr/trading-engine/internal/market"
	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/model"
)

// snapshotSize is how many recent prices accompany the connect snapshot,
// enough for a two-minute chart at one tick per second.
const snapshotSize = 120

// sendQueueSize bounds each client's outbound queue. A client that falls
// this far behind the tick cadence is disconnected rather than allowed
// to stall the feed.
const sendQueueSize = 64

// PriceUpdate is the JSON message sent to WebSocket clients. Live ticks
// carry just the price; the connect-time snapshot also carries recent
// history, oldest first.
type PriceUpdate struct {
	Price     float64   `json:"price"`
	History   []float64 `json:"history,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// wsClient is one subscriber with its own bounded send queue, drained by
// a dedicated write pump.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub manages WebSocket connections and pushes the latest price to all
// connected clients on every engine tick.
type WSHub struct {
	history    *market.History
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewWSHub creates a hub reading snapshots from the given history buffer.
func NewWSHub(history *market.History) *WSHub {
	return &WSHub{
		history:    history,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Queue full: the client cannot keep up, drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// BroadcastTick pushes a new price sample to every connected client.
func (h *WSHub) BroadcastTick(s model.PriceSample) {
	data, err := json.Marshal(PriceUpdate{
		Price:     s.Price,
		Timestamp: s.Timestamp,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the tick loop.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// New clients immediately receive the current price and recent history.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendQueueSize)}

	// Seed the chart before the first live tick arrives.
	if latest, ok := h.history.Latest(); ok {
		snapshot, err := json.Marshal(PriceUpdate{
			Price:     latest.Price,
			History:   h.history.LastN(snapshotSize),
			Timestamp: latest.Timestamp,
		})
		if err == nil {
			c.send <- snapshot
		}
	}

	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// writePump drains the send queue and keeps the connection alive through
// proxies. Exits when the hub closes the queue.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump detects disconnects and keeps the read deadline fresh.
func (c *wsClient) readPump(h *WSHub) {
	defer func() { h.unregister <- c }()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
