package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/transport"
)

// graphql-transport-ws message types
const (
	gqlConnectionInit = "connection_init"
	gqlConnectionAck  = "connection_ack"
	gqlSubscribe      = "subscribe"
	gqlNext           = "next"
	gqlError          = "error"
	gqlComplete       = "complete"
	gqlPing           = "ping"
	gqlPong           = "pong"
)

const gqlSubprotocol = "graphql-transport-ws"

const subscriptionQuery = `subscription TamagotchiUpdates { tamagotchiUpdates { type tamagotchi { id name ownerId happiness hunger energy health age isAlive status position { x y direction speed } emoji } positions { id x y direction } } }`

type gqlMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GraphQLSource streams tamagotchiUpdates over a graphql-transport-ws subscription
type GraphQLSource struct {
	url    string
	token  func() string
	cfg    config.TransportConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewGraphQLSource creates a subscription source. token may return "" for anonymous access.
func NewGraphQLSource(url string, token func() string, cfg config.TransportConfig, logger *slog.Logger) *GraphQLSource {
	return &GraphQLSource{
		url:   url,
		token: token,
		cfg:   cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WriteWait,
			Subprotocols:     []string{gqlSubprotocol},
		},
		logger: logger,
	}
}

// Run keeps a subscription open until ctx is done, reconnecting with backoff
func (s *GraphQLSource) Run(ctx context.Context, handle func(domain.Event)) error {
	attempt := 0
	for {
		opened, err := s.subscribe(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			attempt = 0
		}
		delay := transport.Backoff(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt)
		attempt++
		s.logger.Info("subscription ended, reconnecting", "error", err, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// subscribe runs one connection; opened reports whether the server acknowledged it
func (s *GraphQLSource) subscribe(ctx context.Context, handle func(domain.Event)) (opened bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return false, fmt.Errorf("dialing subscription: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	initPayload := map[string]string{}
	if s.token != nil {
		if tok := s.token(); tok != "" {
			initPayload["Authorization"] = "Bearer " + tok
		}
	}
	if err := s.write(conn, gqlMessage{Type: gqlConnectionInit, Payload: mustJSON(initPayload)}); err != nil {
		return false, err
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	var ack gqlMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return false, fmt.Errorf("awaiting ack: %w", err)
	}
	if ack.Type != gqlConnectionAck {
		return false, fmt.Errorf("expected %s, got %q", gqlConnectionAck, ack.Type)
	}

	sub := gqlMessage{ID: "1", Type: gqlSubscribe, Payload: mustJSON(map[string]string{"query": subscriptionQuery})}
	if err := s.write(conn, sub); err != nil {
		return true, err
	}
	s.logger.Info("subscription open", "url", s.url)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		var msg gqlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, fmt.Errorf("reading subscription: %w", err)
		}

		switch msg.Type {
		case gqlNext:
			ev, err := decodeNext(msg.Payload)
			if err != nil {
				s.logger.Debug("dropping subscription payload", "error", err)
				continue
			}
			handle(ev)
		case gqlPing:
			if err := s.write(conn, gqlMessage{Type: gqlPong}); err != nil {
				return true, err
			}
		case gqlPong, gqlConnectionAck:
		case gqlError:
			return true, fmt.Errorf("subscription error: %s", string(msg.Payload))
		case gqlComplete:
			return true, errors.New("subscription completed by server")
		default:
			s.logger.Debug("unknown subscription message", "type", msg.Type)
		}
	}
}

func (s *GraphQLSource) write(conn *websocket.Conn, msg gqlMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type, err)
	}
	return nil
}

// decodeNext unwraps data.tamagotchiUpdates. The field is normally an event
// object, but a JSON string carrying an encoded event is accepted too.
func decodeNext(payload json.RawMessage) (domain.Event, error) {
	var p struct {
		Data struct {
			TamagotchiUpdates json.RawMessage `json:"tamagotchiUpdates"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	raw := bytes.TrimSpace(p.Data.TamagotchiUpdates)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		raw = []byte(inner)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Event{}, fmt.Errorf("%w: empty update", domain.ErrMalformedEvent)
	}
	return domain.DecodeEvent(raw)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
