package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// SessionCalendar defines what the session handler requires from the
// calendar.
type SessionCalendar interface {
	Current(now time.Time) (domain.Session, bool)
	Sessions() []domain.Session
	Location() *time.Location
}

// SessionHandler serves trading session endpoints.
type SessionHandler struct {
	calendar SessionCalendar
}

// NewSessionHandler creates a SessionHandler over the given calendar.
func NewSessionHandler(calendar SessionCalendar) *SessionHandler {
	return &SessionHandler{calendar: calendar}
}

// sessionJSON is the wire form of a session window.
type sessionJSON struct {
	Name        string `json:"name"`
	Start       string `json:"start"`
	End         string `json:"end"`
	CancelAtEnd bool   `json:"cancel_at_end"`
}

func toSessionJSON(s domain.Session) sessionJSON {
	return sessionJSON{
		Name:        string(s.Name),
		Start:       fmt.Sprintf("%02d:%02d", s.Start.Hour, s.Start.Minute),
		End:         fmt.Sprintf("%02d:%02d", s.End.Hour, s.End.Minute),
		CancelAtEnd: s.CancelAtEnd,
	}
}

// GetCurrent returns the active session, or a closed marker overnight.
// GET /api/sessions/current
func (h *SessionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(h.calendar.Location())

	session, ok := h.calendar.Current(now)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"open": false,
			"time": now.Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"open":    true,
		"time":    now.Format(time.RFC3339),
		"session": toSessionJSON(session),
	})
}

// ListSessions returns the configured session windows in daily order.
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.calendar.Sessions()

	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionJSON(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timezone": h.calendar.Location().String(),
		"sessions": out,
	})
}
