// Package transport owns the raw bidirectional socket to the authority.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

// State of the channel
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Handler receives every successfully decoded inbound event
type Handler func(domain.Event)

// Channel is a single reconnecting socket bound to one user identity.
// Outbound messages are fire-and-forget and are dropped while the socket is not open.
type Channel struct {
	cfg     config.TransportConfig
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	identity string
	handler  Handler
	conn     *websocket.Conn
	send     chan []byte
	attempt  int
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// NewChannel creates an idle channel targeting <baseURL>/ws/<identity>
func NewChannel(baseURL string, cfg config.TransportConfig, logger *slog.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WriteWait,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
		state:  StateIdle,
	}
}

// Backoff returns the reconnect delay after the given number of consecutive failures
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Backoff returns this channel's reconnect delay for attempt
func (c *Channel) Backoff(attempt int) time.Duration {
	return Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
}

// OnMessage installs the inbound handler, replacing any earlier one
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect starts the connection loop for identity. An empty identity is a no-op,
// as is calling Connect while a loop is already running. The loop keeps
// reconnecting until Close is called or ctx is cancelled.
func (c *Channel) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		c.logger.Debug("no identity, not connecting")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrNotConnected
	}
	if c.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.identity = identity
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateConnecting
	go c.run(loopCtx, c.done)
	return nil
}

// Send encodes msg and queues it on the open socket. It returns false when
// the message was dropped.
func (c *Channel) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("failed to encode outbound message", "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.send == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

// SendMousePosition reports the local pointer
func (c *Channel) SendMousePosition(x, y float64) bool {
	return c.Send(domain.MousePositionMessage(x, y))
}

// RequestFlush asks the authority to persist its state now
func (c *Channel) RequestFlush() bool {
	return c.Send(domain.FlushSaveMessage())
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the socket and disables reconnection. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	c.logger.Info("transport closed")
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.state = StateIdle
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		delay := c.Backoff(c.attempt)
		c.attempt++
		c.state = StateConnecting
		c.mu.Unlock()

		c.logger.Info("transport disconnected, reconnecting", "error", err, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session dials once and pumps until the socket fails
func (c *Channel) session(ctx context.Context) error {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	endpoint := c.baseURL + "/ws/" + url.PathEscape(identity)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	send := make(chan []byte, c.cfg.SendBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errors.New("closed during dial")
	}
	c.conn = conn
	c.send = send
	c.state = StateOpen
	c.attempt = 0
	c.mu.Unlock()
	c.logger.Info("transport connected", "url", endpoint)

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(conn, send, stop)
	}()

	err = c.readPump(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.send = nil
	}
	c.mu.Unlock()
	close(stop)
	<-writeDone
	conn.Close()
	return err
}

// readPump decodes inbound frames until the connection fails
func (c *Channel) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("transport read error", "error", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		ev, err := domain.DecodeEvent(message)
		if err != nil {
			c.logger.Debug("dropping inbound frame", "error", err)
			continue
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with pings
func (c *Channel) writePump(conn *websocket.Conn, send <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod(c.cfg.PongWait))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("transport write failed", "error", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
