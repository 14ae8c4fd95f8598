package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/levtrade/corebot/internal/crypto"
	"github.com/levtrade/corebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// Stream is the websocket client for order status updates. It implements
// domain.OrderStream: a single OrderUpdates call owns the connection and
// keeps it alive with reconnection until the context ends.
type Stream struct {
	wsURL  string
	auth   *crypto.HMACAuth
	logger *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
}

// NewStream creates a websocket order stream for the gateway.
func NewStream(wsURL string, cfg ClientConfig, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL: wsURL,
		auth: &crypto.HMACAuth{
			Key:     cfg.Key,
			Secret:  cfg.Secret,
			Account: cfg.Account,
		},
		logger: logger.With(slog.String("component", "broker_stream")),
	}
}

// OrderUpdates connects to the gateway and returns a channel of order status
// events. The channel is closed when the context is cancelled. Connection
// drops are handled internally with exponential backoff; events that arrive
// while disconnected are replayed by the gateway on resubscribe.
func (s *Stream) OrderUpdates(ctx context.Context) (<-chan domain.OrderStatusEvent, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	out := make(chan domain.OrderStatusEvent, 128)
	go s.run(ctx, out)
	return out, nil
}

// connect dials the gateway with signed headers and subscribes to the order
// channel.
func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	header := http.Header{}
	for k, v := range s.auth.Headers(http.MethodGet, "/api/v1/stream", "") {
		header.Set(k, v)
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return fmt.Errorf("brokerage: stream connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := map[string]any{"op": "subscribe", "channels": []string{"orders"}}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return fmt.Errorf("brokerage: stream subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// run owns the connection: it reads until failure, reconnects with backoff,
// and closes out when the context ends.
func (s *Stream) run(ctx context.Context, out chan<- domain.OrderStatusEvent) {
	defer close(out)
	defer s.closeConn()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(ctx, pingDone)

	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WarnContext(ctx, "stream read failed, reconnecting", slog.Any("error", err))
			if !s.reconnect(ctx) {
				return
			}
			continue
		}

		ev, ok := s.parseUpdate(message)
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (s *Stream) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// parseUpdate decodes one websocket message. Non-order messages (heartbeats,
// subscription acks) are skipped.
func (s *Stream) parseUpdate(raw []byte) (domain.OrderStatusEvent, bool) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.OrderStatusEvent{}, false
	}
	if envelope.Type != "order_update" {
		return domain.OrderStatusEvent{}, false
	}

	var status orderStatusJSON
	if err := json.Unmarshal(envelope.Data, &status); err != nil {
		s.logger.Warn("malformed order update", slog.Any("error", err))
		return domain.OrderStatusEvent{}, false
	}
	return status.toEvent(), true
}

// reconnect re-establishes the connection with exponential backoff. It
// returns false when the context ended before a connection was made.
func (s *Stream) reconnect(ctx context.Context) bool {
	s.closeConn()

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := s.connect(dialCtx)
		cancel()
		if err == nil {
			s.logger.InfoContext(ctx, "stream reconnected")
			return true
		}

		s.logger.WarnContext(ctx, "stream reconnect failed", slog.Any("error", err))
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = s.conn.Close()
	}
}

// Compile-time interface check.
var _ domain.OrderStream = (*Stream)(nil)
