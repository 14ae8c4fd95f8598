package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/levtrade/corebot/internal/domain"
)

// CoreHandler serves core position progress and breakdown endpoints.
type CoreHandler struct {
	core   domain.CoreStore
	logger *slog.Logger
}

// NewCoreHandler creates a CoreHandler backed by the given store.
func NewCoreHandler(core domain.CoreStore, logger *slog.Logger) *CoreHandler {
	return &CoreHandler{core: core, logger: logger}
}

// GetProgress returns the symbol's latest core progress snapshot.
// GET /api/core/{symbol}/progress
func (h *CoreHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	progress, err := h.core.LatestProgress(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no progress recorded for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get core progress failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load core progress")
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

// GetBreakdown returns the symbol's latest core/trading share split.
// GET /api/core/{symbol}/breakdown
func (h *CoreHandler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	breakdown, err := h.core.LatestBreakdown(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no breakdown recorded for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get breakdown failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load breakdown")
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

// ListLots returns the symbol's open core lots.
// GET /api/core/{symbol}/lots
func (h *CoreHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	lots, err := h.core.ActiveLots(r.Context(), symbol, domain.LotTypeCore)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list core lots failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list core lots")
		return
	}

	if lots == nil {
		lots = []domain.Lot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": lots})
}
