package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// Lookbacks and cache lifetimes for bar history. Daily history is fetched
// deep enough to cover both the 52-week window and the all-time high as far
// back as the venue serves.
const (
	weeklyLookback   = 60
	dailyLookback    = 1250
	intradayLookback = 60

	barTTL  = 5 * time.Minute
	highTTL = time.Hour
)

// Provider assembles indicator readings for the risk machine and the entry
// signal path. Bar history is cached between evaluations so the periodic
// tasks do not refetch identical series inside one interval.
type Provider struct {
	data   domain.MarketData
	cache  domain.BarCache
	period int
	logger *slog.Logger
}

// NewProvider returns a Provider computing RSI over the given period.
func NewProvider(data domain.MarketData, cache domain.BarCache, period int, logger *slog.Logger) *Provider {
	return &Provider{
		data:   data,
		cache:  cache,
		period: period,
		logger: logger.With(slog.String("component", "indicator")),
	}
}

// Readings gathers everything the risk machine needs for one symbol: weekly
// and daily RSI, the current price, and the 52-week/all-time high marks. A
// fetch or computation failure returns an error so the caller can apply its
// fail-safe default; partial readings are never returned.
func (p *Provider) Readings(ctx context.Context, symbol string) (domain.RiskReadings, error) {
	var r domain.RiskReadings

	weekly, err := p.bars(ctx, symbol, domain.BarWeekly, weeklyLookback)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: %w", symbol, err)
	}
	weeklyRSI, err := LastRSI(Closes(weekly), p.period)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: %w", symbol, err)
	}

	daily, err := p.bars(ctx, symbol, domain.BarDaily, dailyLookback)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: %w", symbol, err)
	}
	dailyRSI, err := LastRSI(Closes(daily), p.period)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: %w", symbol, err)
	}

	yearHigh, allTimeHigh, err := p.highs(ctx, symbol, daily)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: %w", symbol, err)
	}

	quote, err := p.data.Quote(ctx, symbol)
	if err != nil {
		return r, fmt.Errorf("indicator: readings %s: quote: %w", symbol, err)
	}
	price := quote.Last
	if price <= 0 {
		price = quote.Mark()
	}
	if price <= 0 {
		return r, fmt.Errorf("indicator: readings %s: no usable price: %w", symbol, domain.ErrDataUnavailable)
	}

	r.WeeklyRSI = &weeklyRSI
	r.DailyRSI = &dailyRSI
	r.CurrentPrice = &price
	r.YearHigh = &yearHigh
	r.AllTimeHigh = &allTimeHigh

	// The intraday RSI only annotates the recorded state; its absence never
	// blocks a regime decision.
	if curr, _, _, err := p.IntradayRSI(ctx, symbol); err == nil {
		r.CurrentRSI = &curr
	} else {
		p.logger.DebugContext(ctx, "intraday rsi unavailable",
			slog.String("symbol", symbol), slog.Any("error", err))
	}
	return r, nil
}

// IntradayRSI returns the three most recent 15-minute RSI values for the
// entry-signal crossover check: current, previous, and the bar before that.
func (p *Provider) IntradayRSI(ctx context.Context, symbol string) (curr, prev, prev2 float64, err error) {
	bars, err := p.bars(ctx, symbol, domain.Bar15Min, intradayLookback)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("indicator: intraday rsi %s: %w", symbol, err)
	}
	return RSITriple(Closes(bars), p.period)
}

// bars returns cached bar history for symbol, fetching from the market-data
// source on a miss. Cache failures degrade to direct fetches.
func (p *Provider) bars(ctx context.Context, symbol string, interval domain.BarInterval, limit int) ([]domain.Bar, error) {
	if cached, err := p.cache.GetBars(ctx, symbol, interval); err == nil && len(cached) > 0 {
		return cached, nil
	}
	bars, err := p.data.Bars(ctx, symbol, interval, limit, time.Now())
	if err != nil {
		return nil, fmt.Errorf("bars %s %s: %w", symbol, interval, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("bars %s %s: empty history: %w", symbol, interval, domain.ErrDataUnavailable)
	}
	if err := p.cache.SetBars(ctx, symbol, interval, bars, barTTL); err != nil {
		p.logger.WarnContext(ctx, "bar cache write failed",
			slog.String("symbol", symbol), slog.String("interval", string(interval)), slog.Any("error", err))
	}
	return bars, nil
}

// highs returns cached high-water marks, recomputing from daily history on a
// miss.
func (p *Provider) highs(ctx context.Context, symbol string, daily []domain.Bar) (yearHigh, allTimeHigh float64, err error) {
	if yh, ath, err := p.cache.GetHighs(ctx, symbol); err == nil && yh > 0 && ath > 0 {
		return yh, ath, nil
	}
	yearHigh, allTimeHigh, err = HighWaterMarks(daily)
	if err != nil {
		return 0, 0, err
	}
	if err := p.cache.SetHighs(ctx, symbol, yearHigh, allTimeHigh, highTTL); err != nil {
		p.logger.WarnContext(ctx, "high-water cache write failed",
			slog.String("symbol", symbol), slog.Any("error", err))
	}
	return yearHigh, allTimeHigh, nil
}
