package brokerage

import (
	"context"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// CachedData wraps a MarketData source with a quote cache so repeated quote
// lookups within one evaluation interval do not hit the gateway. Bars and
// previous closes pass through untouched; bar caching lives with the
// indicator provider.
type CachedData struct {
	src    domain.MarketData
	quotes domain.QuoteCache
	maxAge time.Duration
	logger *slog.Logger
}

// NewCachedData creates a CachedData. maxAge bounds how stale a cached quote
// may be before the source is consulted again.
func NewCachedData(src domain.MarketData, quotes domain.QuoteCache, maxAge time.Duration, logger *slog.Logger) *CachedData {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &CachedData{
		src:    src,
		quotes: quotes,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "market_data")),
	}
}

// Quote returns the cached quote when fresh enough, otherwise fetches from
// the source and writes through. Cache failures degrade to source reads.
func (c *CachedData) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if q, err := c.quotes.GetQuote(ctx, symbol); err == nil {
		if time.Since(q.Timestamp) <= c.maxAge {
			return q, nil
		}
	}

	q, err := c.src.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}

	if err := c.quotes.SetQuote(ctx, q); err != nil {
		c.logger.WarnContext(ctx, "quote cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return q, nil
}

// Bars delegates to the source.
func (c *CachedData) Bars(ctx context.Context, symbol string, interval domain.BarInterval, limit int, end time.Time) ([]domain.Bar, error) {
	return c.src.Bars(ctx, symbol, interval, limit, end)
}

// PrevDailyClose delegates to the source.
func (c *CachedData) PrevDailyClose(ctx context.Context, symbol string) (float64, error) {
	return c.src.PrevDailyClose(ctx, symbol)
}

var _ domain.MarketData = (*CachedData)(nil)
