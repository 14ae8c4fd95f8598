package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

func openLot(id string, lotType domain.LotType, qty int64, price float64) domain.Lot {
	return domain.Lot{
		ID:       id,
		Symbol:   "SOXL",
		Type:     lotType,
		Quantity: qty,
		Price:    price,
		Status:   domain.LotStatusOpen,
		OpenedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func TestPlaceProfitTargetPricing(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.10)
	f.lots.lots = append(f.lots.lots, lot)

	order, err := f.mgr.PlaceProfitTarget(context.Background(), lot)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderActionSell, order.Action)
	assert.Equal(t, domain.OrderKindLimit, order.Kind)
	assert.Equal(t, domain.OrderTagProfitTarget, order.Tag)
	assert.Equal(t, int64(75), order.Quantity)
	require.NotNil(t, order.LimitPrice)
	assert.InDelta(t, 10.61, *order.LimitPrice, 1e-9) // 10.10 × 1.05 to the cent
	require.NotNil(t, order.LotID)
	assert.Equal(t, "lot-1", *order.LotID)
}

func TestProfitTargetFillClosesLotAndRecordsTrade(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.00)
	f.lots.lots = append(f.lots.lots, lot)

	order, err := f.mgr.PlaceProfitTarget(ctx, lot)
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 75, AvgFillPrice: 10.50,
	})
	require.NoError(t, err)

	stored, err := f.lots.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusClosed, stored.Status)

	require.Len(t, f.perf.trades, 1)
	trade := f.perf.trades[0]
	assert.Equal(t, order.Symbol, trade.Symbol)
	assert.Equal(t, int64(75), trade.Quantity)
	assert.InDelta(t, 37.5, trade.PnL, 1e-9) // (10.50 − 10.00) × 75
	assert.InDelta(t, 0.05, trade.PnLPct, 1e-9)
}

func TestPartialFillCancelShrinksLot(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.00)
	f.lots.lots = append(f.lots.lots, lot)

	order, err := f.mgr.PlaceProfitTarget(ctx, lot)
	require.NoError(t, err)
	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusCancelled,
			FilledQty: 30, RemainingQty: 45, AvgFillPrice: 10.50},
	}
	require.NoError(t, f.mgr.Cancel(ctx, order.ID))

	stored, err := f.lots.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusOpen, stored.Status)
	assert.Equal(t, int64(45), stored.Quantity, "sold shares come off the lot")
	require.Len(t, f.perf.trades, 1)
	assert.Equal(t, int64(30), f.perf.trades[0].Quantity)
}

func TestUnwindFillConsumesCoreLotsOldestFirst(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()
	f.lots.lots = append(f.lots.lots,
		openLot("core-1", domain.LotTypeCore, 3, 9.00),
		openLot("core-2", domain.LotTypeCore, 4, 9.50),
	)

	_, err := f.mgr.Submit(ctx, domain.OrderRequest{
		Symbol:   "SOXL",
		Action:   domain.OrderActionSell,
		Kind:     domain.OrderKindMarket,
		Quantity: 5,
		Tag:      domain.OrderTagCoreUnwind,
	})
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 5, AvgFillPrice: 10.00,
	})
	require.NoError(t, err)

	first, err := f.lots.GetLot(ctx, "core-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusClosed, first.Status)

	second, err := f.lots.GetLot(ctx, "core-2")
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusOpen, second.Status)
	assert.Equal(t, int64(2), second.Quantity)

	require.Len(t, f.perf.trades, 2)
	assert.Equal(t, int64(3), f.perf.trades[0].Quantity)
	assert.Equal(t, int64(2), f.perf.trades[1].Quantity)
}

func TestAdjustSellForGap(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1"), submittedAck("brk-2")}
	ctx := context.Background()
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.00)
	f.lots.lots = append(f.lots.lots, lot)

	original, err := f.mgr.PlaceProfitTarget(ctx, lot)
	require.NoError(t, err)
	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusCancelled, RemainingQty: 75},
	}

	// Overnight gap down to 9.40: replace the sell just under the new price.
	fresh, err := f.mgr.AdjustSellForGap(ctx, lot, 9.40)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderTagGapAdjust, fresh.Tag)
	assert.Equal(t, int64(75), fresh.Quantity)
	require.NotNil(t, fresh.LimitPrice)
	assert.InDelta(t, 9.35, *fresh.LimitPrice, 1e-9) // 9.40 × 0.995
	require.NotNil(t, fresh.LotID)
	assert.Equal(t, "lot-1", *fresh.LotID)

	old, err := f.mgr.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, old.Status)

	working, err := f.store.ListActiveSellsForLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Len(t, working, 1, "exactly one live sell per lot")
}

func TestAdjustSellForGapRefusesClosedLot(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.00)
	f.lots.lots = append(f.lots.lots, lot)

	// The profit target filled overnight; the lot is gone.
	_, err := f.mgr.PlaceProfitTarget(ctx, lot)
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 75, AvgFillPrice: 10.50,
	})
	require.NoError(t, err)

	_, err = f.mgr.AdjustSellForGap(ctx, lot, 9.40)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestGapUpExitReplacesWorkingSells(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1"), submittedAck("brk-2")}
	ctx := context.Background()
	lot := openLot("lot-1", domain.LotTypeTrading, 75, 10.00)
	f.lots.lots = append(f.lots.lots, lot)

	_, err := f.mgr.PlaceProfitTarget(ctx, lot)
	require.NoError(t, err)
	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusCancelled, RemainingQty: 75},
	}
	f.broker.statusQueue["brk-2"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-2", Status: domain.OrderStatusFilled, FilledQty: 75, AvgFillPrice: 11.19},
	}

	// Gap up to 11.20: the aggressive exit sits a hair under the market.
	final, err := f.mgr.GapUpExit(ctx, lot, 11.20)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, final.Status)
	assert.Equal(t, domain.OrderTagGapExit, final.Tag)
	require.NotNil(t, final.LimitPrice)
	assert.InDelta(t, 11.19, *final.LimitPrice, 1e-9) // 11.20 × 0.999, to the cent

	stored, err := f.lots.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusClosed, stored.Status)
	require.Len(t, f.perf.trades, 1)
	assert.InDelta(t, (11.19-10.00)*75, f.perf.trades[0].PnL, 1e-6)
}
