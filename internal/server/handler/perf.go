package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// PerfService defines what the performance handler requires from the
// tracker.
type PerfService interface {
	LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
	Trades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradePerformance, error)
	RealizedPnL(ctx context.Context, since time.Time) (float64, error)
	CorePerformance(ctx context.Context, symbol string) (domain.CorePerformance, error)
}

// PerfHandler serves performance reporting endpoints.
type PerfHandler struct {
	perf   PerfService
	logger *slog.Logger
}

// NewPerfHandler creates a PerfHandler with the given tracker and logger.
func NewPerfHandler(perf PerfService, logger *slog.Logger) *PerfHandler {
	return &PerfHandler{perf: perf, logger: logger}
}

// GetLatest returns the most recent portfolio snapshot plus realized PnL
// over the trailing 30 days.
// GET /api/performance
func (h *PerfHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.perf.LatestSnapshot(r.Context())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "handler: latest snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load performance")
		return
	}

	pnl, err := h.perf.RealizedPnL(r.Context(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: realized pnl failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load performance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":         snap,
		"realized_pnl_30d": pnl,
	})
}

// ListTrades returns realized trade results, optionally per symbol.
// GET /api/performance/trades?symbol=TQQQ&limit=50&offset=0
func (h *PerfHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.perf.Trades(r.Context(), r.URL.Query().Get("symbol"), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.TradePerformance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// GetCore returns the symbol's core holding performance against cost basis.
// GET /api/performance/core/{symbol}
func (h *PerfHandler) GetCore(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	cp, err := h.perf.CorePerformance(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no core holding for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: core performance failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load core performance")
		return
	}

	writeJSON(w, http.StatusOK, cp)
}
