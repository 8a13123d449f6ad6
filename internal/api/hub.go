package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is a status message pushed to websocket subscribers: executed
// orders, exit triggers, completed scan cycles, regime changes.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// Hub fans engine events out to websocket clients. Slow clients are dropped
// rather than allowed to stall the broadcast loop.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	events chan Event
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		events:  make(chan Event, 64),
	}
}

// Broadcast queues an event for all subscribers. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	select {
	case h.events <- Event{Type: eventType, Payload: payload, At: time.Now().UTC()}:
	default:
		h.logger.Debug("event queue full, dropping", zap.String("type", eventType))
	}
}

// Run dispatches queued events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			raw, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("event marshal failed", zap.Error(err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- raw:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the connection and subscribes it to the event stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for raw := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound messages; the stream is one-way. It exists to
// notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}
