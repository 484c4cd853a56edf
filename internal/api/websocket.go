// Package api - WebSocket stream of audit events
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn    *websocket.Conn
	send    chan []byte
	address domain.Address
	all     bool
}

// wants reports whether the client may see the event
func (c *WSClient) wants(e *domain.Event) bool {
	return c.all || e.Actor == c.address || e.Subject == c.address
}

// Hub fans recorded events out to connected clients. It is an audit sink.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Write broadcasts an event. Slow clients drop messages.
func (h *Hub) Write(_ context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(WSMessage{Type: "event", Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("websocket client too slow, dropping event",
				zap.String("client", c.address.String()),
				zap.Uint64("sequence", event.Sequence))
		}
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// unregister closes the send channel exactly once
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// sendMessage queues a message for one client
func (h *Hub) sendMessage(c *WSClient, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	msgBytes, _ := json.Marshal(WSMessage{
		Type:    msgType,
		Payload: payloadBytes,
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msgBytes:
	default:
		// Channel full, drop message
	}
}

func (h *Hub) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, "error", map[string]string{
		"code":    code,
		"message": message,
	})
}

// HandleWebSocket streams audit events. Admins and operators receive every
// event, other callers only those naming their address.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "STREAM_DISABLED", "Event stream is disabled")
		return
	}
	actor := actorFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:    conn,
		send:    make(chan []byte, 256),
		address: actor,
		all:     h.access.RequireOperatorOrAdmin(actor) == nil,
	}
	h.hub.register(client)

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client control messages until the connection drops
func (h *Handler) readPump(c *WSClient) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	h.hub.sendMessage(c, "connected", map[string]interface{}{
		"address": c.address,
		"all":     c.all,
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.hub.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			h.hub.sendMessage(c, "pong", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})
		case "status":
			h.hub.sendMessage(c, "status", h.control.Status())
		default:
			h.hub.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
		}
	}
}
