package wshub

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"circuitrunners/internal/events"
	"circuitrunners/pkg/logger"
	"circuitrunners/pkg/metrics"
)

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient creates a client with an outbound buffer of size buffer.
func NewClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, buffer),
	}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub tracks every live connection by id and delivers encoded events to
// them. Delivery never blocks: a client whose buffer is full misses the
// message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	logger  *zap.Logger
	metrics *metrics.Manager
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and closes its Send channel. Unknown ids are
// ignored, so repeated calls are safe.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.Send)
		delete(h.clients, id)
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send delivers an event to a single client.
func (h *Hub) Send(id, event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[id]; ok {
		h.deliver(c, msg)
	}
}

// Broadcast delivers an event to every listed client.
func (h *Hub) Broadcast(ids []string, event string, data any) {
	h.BroadcastExcept(ids, "", event, data)
}

// BroadcastExcept delivers an event to every listed client but senderID.
func (h *Hub) BroadcastExcept(ids []string, senderID, event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if id == senderID {
			continue
		}
		if c, ok := h.clients[id]; ok {
			h.deliver(c, msg)
		}
	}
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	msg, err := events.Encode(event, data)
	if err != nil {
		h.logger.Error("marshal error", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return msg, true
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.Send <- msg:
	default:
		h.metrics.RecordMessageDropped()
		h.logger.Debug("client buffer full, dropping message", zap.String("client", c.ID))
	}
}
