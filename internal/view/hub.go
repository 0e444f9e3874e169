package view

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/petsync/internal/config"
)

// Hub maintains the set of connected renderers and pushes frames to them
type Hub struct {
	// All connected clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Out-of-tick frame requests
	refresh chan struct{}

	builder *Builder
	input   InputHandler
	rate    int

	// Mutex for thread-safe operations
	mu sync.RWMutex

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(builder *Builder, input InputHandler, cfg config.ViewConfig, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	rate := cfg.BroadcastRate
	if rate <= 0 {
		rate = 20
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		refresh:    make(chan struct{}, 1),
		builder:    builder,
		input:      input,
		rate:       rate,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("renderer hub started", "broadcast_rate", h.rate)

	ticker := time.NewTicker(time.Second / time.Duration(h.rate))
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("renderer hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.sendFrame(client)
			h.logger.Debug("renderer registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("renderer unregistered", "client_id", client.id)

		case <-h.refresh:
			h.broadcastFrames()

		case <-ticker.C:
			h.broadcastFrames()
		}
	}
}

// Stop stops the hub and disconnects every renderer
func (h *Hub) Stop() {
	h.cancel()
}

// Refresh asks for a frame ahead of the next tick
func (h *Hub) Refresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Register adds a client to the hub. It returns false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// GetTotalConnections returns the number of connected renderers
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastFrames sends each client the frame for its own filter
func (h *Hub) broadcastFrames() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		h.sendFrame(client)
	}
}

func (h *Hub) sendFrame(client *Client) {
	data, err := json.Marshal(h.builder.Build(client.Filter()))
	if err != nil {
		h.logger.Error("failed to marshal frame", "error", err)
		return
	}
	if !client.enqueue(data) {
		// A slow renderer just misses this frame.
		h.logger.Debug("renderer buffer full, skipping frame", "client_id", client.id)
	}
}
