// Package ws streams engine events to websocket clients. The hub subscribes
// to the events:* bus channels and fans each message out to every session
// subscribed to its source channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/levtrade/corebot/internal/domain"
)

// busChannels lists every channel the engine publishes on. New sessions
// start subscribed to all of them.
var busChannels = []string{
	"events:engine",
	"events:risk",
	"events:core",
	"events:signal",
	"events:guardrail",
	"events:order",
	"events:session",
}

// envelope is the frame sent to clients: the source channel plus the raw
// event payload as published on the bus.
type envelope struct {
	channel string
	data    []byte
}

// Config carries the metadata included in the status frame each client gets
// on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub bridges the event bus to connected websocket sessions.
type Hub struct {
	bus    domain.EventBus
	logger *slog.Logger

	mode      string
	startedAt time.Time

	attach chan *session
	detach chan *session
	relay  chan envelope

	mu       sync.RWMutex
	sessions map[*session]bool
}

func NewHub(bus domain.EventBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		attach:    make(chan *session),
		detach:    make(chan *session),
		relay:     make(chan envelope, 256),
		sessions:  make(map[*session]bool),
	}
}

// Run subscribes to the bus channels and serves the attach/detach/relay loop
// until the context ends.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		go h.pump(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case s := <-h.attach:
			h.mu.Lock()
			h.sessions[s] = true
			n := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case s := <-h.detach:
			h.mu.Lock()
			if h.sessions[s] {
				delete(h.sessions, s)
				close(s.send)
			}
			n := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case env := <-h.relay:
			h.fanOut(env)
		}
	}
}

// pump forwards one bus channel into the relay, wrapping each payload in a
// channel-tagged frame.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			frame, err := json.Marshal(map[string]any{
				"channel": channel,
				"payload": json.RawMessage(payload),
			})
			if err != nil {
				continue
			}
			h.relay <- envelope{channel: channel, data: frame}
		}
	}
}

func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.subscribed(env.channel) {
			continue
		}
		select {
		case s.send <- env.data:
		default:
			h.logger.Warn("dropping frame for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		close(s.send)
		delete(h.sessions, s)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and attaches the session. New sessions are
// subscribed to every bus channel until they narrow the set themselves.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := newSession(h, conn)
	h.attach <- s
	s.sendStatus()

	go s.writeLoop()
	go s.readLoop()
}
