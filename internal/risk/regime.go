// Package risk implements the per-symbol regime state machine and the
// pre-trade guardrail checks that gate every order.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// Thresholds holds the RSI levels driving regime transitions.
type Thresholds struct {
	Overbought float64 // weekly RSI at or above this forces risk-off
	Oversold   float64 // daily RSI below this re-arms risk-on
}

// Machine evaluates per-symbol risk regimes. The previous regime is always
// read from the durable append-only log, never from memory, and only actual
// regime changes append a new record.
type Machine struct {
	states     domain.RiskStateStore
	milestones domain.MilestoneStore
	bus        domain.EventBus
	thresholds Thresholds
	logger     *slog.Logger
}

// NewMachine creates a Machine with all required dependencies.
func NewMachine(
	states domain.RiskStateStore,
	milestones domain.MilestoneStore,
	bus domain.EventBus,
	thresholds Thresholds,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		states:     states,
		milestones: milestones,
		bus:        bus,
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "risk_machine")),
	}
}

// Evaluate resolves the regime for symbol from the supplied readings and the
// previously recorded state, appends a new record when the regime changed,
// and records any price milestones crossed. Milestone detection fires on
// every evaluation where readings are complete, independent of whether the
// regime changed.
//
// Evaluation never fails over bad inputs: missing readings resolve to
// RISK_OFF. The returned error is non-nil only when the context ends
// mid-operation.
func (m *Machine) Evaluate(ctx context.Context, symbol string, r domain.RiskReadings) (domain.RiskState, []domain.PriceMilestone, error) {
	prev, hasPrev := m.previous(ctx, symbol)
	if err := ctx.Err(); err != nil {
		return domain.RiskState{}, nil, fmt.Errorf("risk: evaluate %s: %w", symbol, err)
	}

	regime, reason := decide(prev, hasPrev, r, m.thresholds)

	milestones, err := m.recordMilestones(ctx, symbol, r)
	if err != nil {
		return domain.RiskState{}, nil, fmt.Errorf("risk: evaluate %s: %w", symbol, err)
	}

	// Unchanged regime: the previous record stays current.
	if hasPrev && prev.Regime == regime {
		return prev, milestones, nil
	}

	state := domain.RiskState{
		Symbol:     symbol,
		Regime:     regime,
		Reason:     reason,
		WeeklyRSI:  r.WeeklyRSI,
		DailyRSI:   r.DailyRSI,
		CurrentRSI: r.CurrentRSI,
		RecordedAt: time.Now().UTC(),
	}

	recorded, appendErr := m.states.Append(ctx, state)
	if appendErr != nil {
		if errors.Is(appendErr, context.Canceled) || errors.Is(appendErr, context.DeadlineExceeded) {
			return domain.RiskState{}, nil, fmt.Errorf("risk: evaluate %s: append: %w", symbol, appendErr)
		}
		// Durability gap: the transition is decided but not recorded. The
		// caller still gets the resolved state.
		m.logger.ErrorContext(ctx, "risk state append failed",
			slog.String("symbol", symbol),
			slog.String("regime", string(regime)),
			slog.Any("error", appendErr),
		)
		recorded = state
	}

	from := string(domain.RegimeNeutral)
	if hasPrev {
		from = string(prev.Regime)
	}
	m.logger.InfoContext(ctx, "risk regime transition",
		slog.String("symbol", symbol),
		slog.String("from", from),
		slog.String("to", string(regime)),
		slog.String("reason", reason),
	)
	m.publishTransition(ctx, symbol, from, string(regime), reason)

	return recorded, milestones, nil
}

// Current returns the most recent recorded state for symbol.
func (m *Machine) Current(ctx context.Context, symbol string) (domain.RiskState, error) {
	state, err := m.states.Latest(ctx, symbol)
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("risk: current %s: %w", symbol, err)
	}
	return state, nil
}

// previous loads the latest recorded state. A missing history is normal for
// a new symbol; any other read failure resolves fail-safe to RISK_OFF so a
// broken store can never unlock trading.
func (m *Machine) previous(ctx context.Context, symbol string) (domain.RiskState, bool) {
	prev, err := m.states.Latest(ctx, symbol)
	if err == nil {
		return prev, true
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RiskState{}, false
	}
	m.logger.ErrorContext(ctx, "risk state read failed, assuming risk-off",
		slog.String("symbol", symbol),
		slog.Any("error", err),
	)
	return domain.RiskState{Symbol: symbol, Regime: domain.RegimeRiskOff, Reason: "state history unavailable"}, true
}

// decide applies the transition rules in precedence order. First match wins.
func decide(prev domain.RiskState, hasPrev bool, r domain.RiskReadings, t Thresholds) (domain.RiskRegime, string) {
	if !r.Complete() {
		return domain.RegimeRiskOff, "indicators unavailable"
	}
	if *r.WeeklyRSI > t.Overbought {
		return domain.RegimeRiskOff, fmt.Sprintf("weekly RSI %.1f above %.0f", *r.WeeklyRSI, t.Overbought)
	}
	if *r.CurrentPrice >= *r.YearHigh {
		return domain.RegimeRiskOff, fmt.Sprintf("price %.2f at or above 52-week high %.2f", *r.CurrentPrice, *r.YearHigh)
	}
	if *r.CurrentPrice >= *r.AllTimeHigh {
		return domain.RegimeRiskOff, fmt.Sprintf("price %.2f at or above all-time high %.2f", *r.CurrentPrice, *r.AllTimeHigh)
	}
	if hasPrev && prev.Regime == domain.RegimeRiskOff {
		if *r.DailyRSI < t.Oversold {
			return domain.RegimeRiskOn, fmt.Sprintf("weekly RSI %.1f below %.0f and daily RSI %.1f crossed below %.0f",
				*r.WeeklyRSI, t.Overbought, *r.DailyRSI, t.Oversold)
		}
		return domain.RegimeRiskOff, prev.Reason
	}
	if hasPrev {
		return prev.Regime, prev.Reason
	}
	return domain.RegimeNeutral, "no prior regime history"
}

// recordMilestones detects and persists high-water crossings. Both marks can
// fire on the same evaluation.
func (m *Machine) recordMilestones(ctx context.Context, symbol string, r domain.RiskReadings) ([]domain.PriceMilestone, error) {
	if !r.Complete() {
		return nil, nil
	}

	var kinds []domain.MilestoneKind
	if *r.CurrentPrice >= *r.YearHigh {
		kinds = append(kinds, domain.Milestone52WeekHigh)
	}
	if *r.CurrentPrice >= *r.AllTimeHigh {
		kinds = append(kinds, domain.MilestoneAllTimeHigh)
	}
	if len(kinds) == 0 {
		return nil, nil
	}

	out := make([]domain.PriceMilestone, 0, len(kinds))
	for _, kind := range kinds {
		ms := domain.PriceMilestone{
			Symbol:     symbol,
			Kind:       kind,
			Price:      *r.CurrentPrice,
			RecordedAt: time.Now().UTC(),
		}
		recorded, err := m.milestones.Append(ctx, ms)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("milestone append: %w", err)
			}
			m.logger.WarnContext(ctx, "milestone append failed",
				slog.String("symbol", symbol),
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)
			recorded = ms
		} else {
			m.logger.InfoContext(ctx, "price milestone",
				slog.String("symbol", symbol),
				slog.String("kind", string(kind)),
				slog.Float64("price", ms.Price),
			)
		}
		out = append(out, recorded)
	}
	return out, nil
}

// publishTransition emits a transition event for subscribers (notifier, ws
// hub). Publish failures are logged, never propagated.
func (m *Machine) publishTransition(ctx context.Context, symbol, from, to, reason string) {
	evt, _ := json.Marshal(map[string]string{
		"event":  "risk_transition",
		"symbol": symbol,
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	if err := m.bus.Publish(ctx, "events:risk", evt); err != nil {
		m.logger.WarnContext(ctx, "risk transition publish failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
}
