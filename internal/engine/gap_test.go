package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

func seedGapLot(t *testing.T, f *fixture, price float64) {
	t.Helper()
	require.NoError(t, f.lots.AppendLot(context.Background(), domain.Lot{
		ID:       "lot-1",
		Symbol:   "TSLL",
		Type:     domain.LotTypeTrading,
		Quantity: 10,
		Price:    price,
		Status:   domain.LotStatusOpen,
		OpenedAt: time.Now().UTC().Add(-time.Hour),
	}))
}

func TestGapTickAdjustsSellOncePerWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pin(f.at(t, "2026-02-03 04:00:30"))

	seedGapLot(t, f, 10)
	f.data.quotes["TSLL"] = domain.Quote{Symbol: "TSLL", Bid: 11.19, Ask: 11.21, Last: 11.2}
	f.data.prevCloses["TSLL"] = 10.5

	require.NoError(t, f.eng.gapTick(ctx))

	// Price gapped past the +1% target: the sell is repriced just under
	// the current price.
	adjusts := f.orderRows.byTag(domain.OrderTagGapAdjust)
	require.Len(t, adjusts, 1)
	assert.Equal(t, domain.OrderActionSell, adjusts[0].Action)
	assert.Equal(t, int64(10), adjusts[0].Quantity)
	require.NotNil(t, adjusts[0].LimitPrice)
	assert.InDelta(t, 11.14, *adjusts[0].LimitPrice, 1e-9)
	require.NotNil(t, adjusts[0].LotID)
	assert.Equal(t, "lot-1", *adjusts[0].LotID)

	gaps, err := f.signals.ListGaps(ctx, "TSLL", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, domain.GapUp, gaps[0].Direction)
	assert.Equal(t, "sell_adjusted", gaps[0].Action)
	assert.InDelta(t, 10.5, gaps[0].PrevClose, 1e-9)
	assert.InDelta(t, 11.2, gaps[0].OpenPrice, 1e-9)

	// Same anchor, same day: the window fires once.
	require.NoError(t, f.eng.gapTick(ctx))
	assert.Len(t, f.orderRows.byTag(domain.OrderTagGapAdjust), 1)
	gaps, err = f.signals.ListGaps(ctx, "TSLL", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, gaps, 1)
}

func TestGapTickOutsideAnchorWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pin(f.at(t, premarketClock)) // 05:00, an hour past the open anchor

	seedGapLot(t, f, 10)
	f.data.quotes["TSLL"] = domain.Quote{Symbol: "TSLL", Bid: 11.19, Ask: 11.21, Last: 11.2}

	require.NoError(t, f.eng.gapTick(ctx))
	assert.Empty(t, f.orderRows.orders)
	assert.Empty(t, f.signals.gaps)
}

func TestGapTickIgnoresLotsBelowTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pin(f.at(t, "2026-02-03 04:00:30"))

	seedGapLot(t, f, 10)
	f.data.quotes["TSLL"] = domain.Quote{Symbol: "TSLL", Bid: 10.04, Ask: 10.06, Last: 10.05}

	require.NoError(t, f.eng.gapTick(ctx))
	assert.Empty(t, f.orderRows.orders)
	assert.Empty(t, f.signals.gaps)
}

func TestGapTickMonitorModeRecordsDetection(t *testing.T) {
	f := newFixture(t)
	f.eng.cfg.Mode = "monitor"
	ctx := context.Background()
	f.pin(f.at(t, "2026-02-03 04:00:30"))

	seedGapLot(t, f, 10)
	f.data.quotes["TSLL"] = domain.Quote{Symbol: "TSLL", Bid: 11.19, Ask: 11.21, Last: 11.2}
	f.data.prevCloses["TSLL"] = 10.5

	require.NoError(t, f.eng.gapTick(ctx))

	assert.Empty(t, f.orderRows.orders)
	gaps, err := f.signals.ListGaps(ctx, "TSLL", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "detected", gaps[0].Action)
}

func TestClaimGapWindowPerAnchorPerDay(t *testing.T) {
	f := newFixture(t)

	key, ok := f.eng.claimGapWindow(f.at(t, "2026-02-03 04:00:30"))
	require.True(t, ok)
	assert.Equal(t, "04:00", key)

	// The open anchor is spent for the day.
	_, ok = f.eng.claimGapWindow(f.at(t, "2026-02-03 04:00:45"))
	assert.False(t, ok)

	// The post-close anchor claims within one poll interval.
	key, ok = f.eng.claimGapWindow(f.at(t, "2026-02-03 16:30:59"))
	require.True(t, ok)
	assert.Equal(t, "16:30", key)

	_, ok = f.eng.claimGapWindow(f.at(t, "2026-02-03 16:32:00"))
	assert.False(t, ok)

	// A new day re-arms both anchors.
	key, ok = f.eng.claimGapWindow(f.at(t, "2026-02-04 04:00:00"))
	require.True(t, ok)
	assert.Equal(t, "04:00", key)
}
