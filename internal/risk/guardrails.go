package risk

import (
	"fmt"

	"github.com/levtrade/corebot/internal/domain"
)

// Verdict is the result of one guardrail check: an explicit allow/deny plus
// a human-readable reason for denials.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(format string, args ...any) Verdict {
	return Verdict{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Limits holds the configured guardrail fractions, all relative to total
// portfolio value.
type Limits struct {
	MaxPositionBuffer float64 // allowed overshoot above a symbol's target weight
	MinCashReserve    float64 // cash floor that BUYs may not breach
	MaxTotalInvested  float64 // ceiling on aggregate position value
	CoreExposure      float64 // per-symbol cap for core-tagged orders
	MaxExposure       float64 // per-symbol cap for trading-tagged orders
}

// CheckRequest carries every input a guardrail decision needs. Checks are
// pure: no I/O, no stored state.
type CheckRequest struct {
	Symbol         string
	Action         domain.OrderAction
	LotType        domain.LotType
	TargetWeight   float64 // symbol's core target weight; zero when none
	OrderValue     float64 // quantity × expected price
	PositionValue  float64 // current market value of the symbol's position
	TotalInvested  float64 // market value of all positions combined
	Cash           float64
	PortfolioValue float64
}

// Guardrails evaluates pre-trade exposure and cash constraints. Boundary
// convention: a value landing exactly on a limit is allowed; anything beyond
// is denied.
type Guardrails struct {
	limits Limits
}

// NewGuardrails creates a Guardrails evaluator with the given limits.
func NewGuardrails(limits Limits) *Guardrails {
	return &Guardrails{limits: limits}
}

// Check runs every applicable guardrail in order and returns the first
// denial, or an allow when all pass. SELLs reduce exposure and free cash, so
// only BUYs are subject to the checks.
func (g *Guardrails) Check(req CheckRequest) Verdict {
	if req.Action == domain.OrderActionSell {
		return allow()
	}
	if req.PortfolioValue <= 0 {
		return deny("portfolio value %.2f is not positive, cannot size orders", req.PortfolioValue)
	}
	if v := g.CheckBuffer(req); !v.Allowed {
		return v
	}
	if v := g.CheckCashReserve(req); !v.Allowed {
		return v
	}
	if v := g.CheckExposure(req); !v.Allowed {
		return v
	}
	return g.CheckTotalInvested(req)
}

// CheckBuffer rejects a BUY whose resulting position value would exceed
// (target_weight + max_position_buffer) × portfolio value.
func (g *Guardrails) CheckBuffer(req CheckRequest) Verdict {
	ceiling := (req.TargetWeight + g.limits.MaxPositionBuffer) * req.PortfolioValue
	resulting := req.PositionValue + req.OrderValue
	if resulting > ceiling {
		return deny("%s position would reach %.2f, above buffer ceiling %.2f (target %.2f%% + buffer %.2f%%)",
			req.Symbol, resulting, ceiling, req.TargetWeight*100, g.limits.MaxPositionBuffer*100)
	}
	return allow()
}

// CheckCashReserve rejects a BUY that would drop the cash fraction below the
// configured reserve floor.
func (g *Guardrails) CheckCashReserve(req CheckRequest) Verdict {
	remaining := (req.Cash - req.OrderValue) / req.PortfolioValue
	if remaining < g.limits.MinCashReserve {
		return deny("%s order of %.2f would leave %.2f%% cash, below reserve %.2f%%",
			req.Symbol, req.OrderValue, remaining*100, g.limits.MinCashReserve*100)
	}
	return allow()
}

// CheckExposure rejects an order that would push the symbol's position value
// above its lot-class cap.
func (g *Guardrails) CheckExposure(req CheckRequest) Verdict {
	classCap := g.limits.MaxExposure
	class := "trading"
	if req.LotType == domain.LotTypeCore {
		classCap = g.limits.CoreExposure
		class = "core"
	}
	ceiling := classCap * req.PortfolioValue
	resulting := req.PositionValue + req.OrderValue
	if resulting > ceiling {
		return deny("%s %s exposure would reach %.2f, above cap %.2f (%.2f%%)",
			req.Symbol, class, resulting, ceiling, classCap*100)
	}
	return allow()
}

// CheckTotalInvested rejects a BUY that would push aggregate position value
// above the configured fraction of the portfolio.
func (g *Guardrails) CheckTotalInvested(req CheckRequest) Verdict {
	ceiling := g.limits.MaxTotalInvested * req.PortfolioValue
	resulting := req.TotalInvested + req.OrderValue
	if resulting > ceiling {
		return deny("total invested would reach %.2f, above ceiling %.2f (%.2f%%)",
			resulting, ceiling, g.limits.MaxTotalInvested*100)
	}
	return allow()
}
