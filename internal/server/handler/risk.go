package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/levtrade/corebot/internal/domain"
)

// RiskHandler serves risk regime state and history endpoints.
type RiskHandler struct {
	states     domain.RiskStateStore
	milestones domain.MilestoneStore
	logger     *slog.Logger
}

// NewRiskHandler creates a RiskHandler backed by the given stores.
func NewRiskHandler(states domain.RiskStateStore, milestones domain.MilestoneStore, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{states: states, milestones: milestones, logger: logger}
}

// GetState returns the symbol's current risk state.
// GET /api/risk/{symbol}
func (h *RiskHandler) GetState(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	state, err := h.states.Latest(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no risk state recorded for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get risk state failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load risk state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// ListHistory returns the symbol's regime transition history, newest first.
// GET /api/risk/{symbol}/history?limit=50&offset=0
func (h *RiskHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	states, err := h.states.List(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list risk history failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list risk history")
		return
	}

	if states == nil {
		states = []domain.RiskState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

// ListMilestones returns the symbol's recorded price milestones.
// GET /api/risk/{symbol}/milestones?limit=50&offset=0
func (h *RiskHandler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	milestones, err := h.milestones.List(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list milestones failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list milestones")
		return
	}

	if milestones == nil {
		milestones = []domain.PriceMilestone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"milestones": milestones})
}
