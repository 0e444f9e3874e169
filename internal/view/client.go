package view

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petsync/internal/registry"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Renderers run on the same machine
		return true
	},
}

// Client is one connected renderer
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	filter registry.ViewFilter
	closed bool
}

// NewClient creates a new renderer client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 16),
		logger: logger,
	}
}

// Filter returns the renderer's current view filter
func (c *Client) Filter() registry.ViewFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Client) setFilter(f registry.ViewFilter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// enqueue hands data to the write pump without blocking. It reports false
// when the buffer is full or the hub has already closed the channel.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once; later enqueues are dropped.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps renderer input into the hub's input handler
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var in Input
		if err := json.Unmarshal(message, &in); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}

		c.handleMessage(in)
	}
}

// handleMessage processes one renderer message
func (c *Client) handleMessage(in Input) {
	switch in.Type {
	case InputFilter:
		c.setFilter(in.Filter())
		c.hub.Refresh()

	case InputPing:
		c.sendJSON(map[string]any{"type": MessageTypePong, "timestamp": time.Now()})

	default:
		if c.hub.input == nil {
			return
		}
		if err := c.hub.input.HandleInput(in); err != nil {
			c.logger.Debug("renderer input rejected", "type", in.Type, "pet_id", in.PetID, "error", err)
			c.sendError(err.Error())
			return
		}
		if in.Type != InputMouseMove {
			c.hub.Refresh()
		}
	}
}

// writePump pumps frames from the hub to the renderer
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(errMsg string) {
	c.sendJSON(map[string]any{
		"type":      MessageTypeError,
		"error":     errMsg,
		"timestamp": time.Now(),
	})
}

// sendJSON queues a reply; it is dropped once the hub has let go of the client
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// ErrHubStopped is returned by ServeWs once the hub has shut down
var ErrHubStopped = errors.New("renderer hub stopped")

// ServeWs upgrades a renderer connection and starts its pumps
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	client := NewClient(hub, conn, logger)
	if !hub.Register(client) {
		conn.Close()
		return ErrHubStopped
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new renderer connection", "client_id", client.id)
	return nil
}
