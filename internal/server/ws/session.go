package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// session is one websocket connection with its subscription set.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// controlMsg is the only inbound message shape: subscription management.
type controlMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	subs := make(map[string]bool, len(busChannels))
	for _, ch := range busChannels {
		subs[ch] = true
	}
	return &session{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: subs,
	}
}

// sendStatus queues the connect-time status frame so dashboards can mark the
// link healthy before any engine event arrives.
func (s *session) sendStatus() {
	uptime := int64(time.Since(s.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	frame, err := json.Marshal(map[string]any{
		"channel": "status",
		"payload": map[string]any{
			"mode":           s.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case s.send <- frame:
	default:
	}
}

// subscribed matches exact channel names plus trailing-star patterns, so
// "events:*" covers every engine channel.
func (s *session) subscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subs[channel] {
		return true
	}
	for pattern := range s.subs {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (s *session) applyControl(msg controlMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			s.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(s.subs, ch)
		}
	}
}

// readLoop consumes inbound frames. Anything that parses as a controlMsg
// adjusts the subscription set; everything else is ignored.
func (s *session) readLoop() {
	defer func() {
		s.hub.detach <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Action != "" {
			s.applyControl(msg)
		}
	}
}

// writeLoop drains the send buffer as JSON text frames and keeps the
// connection alive with pings.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
