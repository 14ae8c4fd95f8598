package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/levtrade/corebot/internal/domain"
)

// EventsHandler serves the durable engine event history recorded by the
// dispatcher.
type EventsHandler struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from the given bus.
func NewEventsHandler(bus domain.EventBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// ListEvents returns engine events appended after the given stream ID.
// GET /api/events?after=1700000000000-0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := parseListOpts(r).Limit

	msgs, err := h.bus.StreamRead(r.Context(), domain.EventLogStream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: event history read failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, map[string]any{
			"id":    m.ID,
			"event": json.RawMessage(m.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
