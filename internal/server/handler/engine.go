package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/levtrade/corebot/internal/domain"
)

// EngineControl defines what the engine handler requires from the trading
// engine.
type EngineControl interface {
	Start() error
	Stop(ctx context.Context) error
	Running() bool
	Status(ctx context.Context) domain.BotStatus
}

// EngineHandler serves engine status and start/stop endpoints.
type EngineHandler struct {
	engine EngineControl
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler with the given engine and logger.
func NewEngineHandler(engine EngineControl, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// GetStatus responds with the engine's operational summary.
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

// Start launches the trading loop if it is not already running.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.engine.Running() {
		writeError(w, http.StatusConflict, "engine already running")
		return
	}

	if err := h.engine.Start(); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: engine start failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start engine")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// Stop halts the trading loop.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Running() {
		writeError(w, http.StatusConflict, "engine not running")
		return
	}

	if err := h.engine.Stop(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: engine stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop engine")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
