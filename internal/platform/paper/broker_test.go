package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

// staticData returns fixed quotes per symbol.
type staticData struct {
	quotes map[string]domain.Quote
}

func (d *staticData) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := d.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrDataUnavailable
	}
	return q, nil
}

func (d *staticData) Bars(context.Context, string, domain.BarInterval, int, time.Time) ([]domain.Bar, error) {
	return nil, domain.ErrDataUnavailable
}

func (d *staticData) PrevDailyClose(context.Context, string) (float64, error) {
	return 0, domain.ErrDataUnavailable
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(cash float64) *Broker {
	data := &staticData{quotes: map[string]domain.Quote{
		"TQQQ": {Symbol: "TQQQ", Bid: 50.0, Ask: 50.2, Last: 50.1},
	}}
	return NewBroker(data, cash, testLogger())
}

func TestBuyFillsAtAsk(t *testing.T) {
	b := newTestBroker(10_000)

	ack, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ack.Status)

	ev, err := b.OrderStatus(context.Background(), ack.BrokerID)
	require.NoError(t, err)
	assert.Equal(t, 50.2, ev.AvgFillPrice)

	acct, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_000-10*50.2, acct.Cash, 1e-9)
}

func TestSellFillsAtBidAndClosesPosition(t *testing.T) {
	b := newTestBroker(10_000)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 10,
	})
	require.NoError(t, err)

	_, err = b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionSell, Kind: domain.OrderKindMarket, Quantity: 10,
	})
	require.NoError(t, err)

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestBuyRejectedWhenCashShort(t *testing.T) {
	b := newTestBroker(100)

	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 10,
	})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestSellRejectedWhenFlat(t *testing.T) {
	b := newTestBroker(10_000)

	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionSell, Kind: domain.OrderKindMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestMarketableLimitFillsAtBetterPrice(t *testing.T) {
	b := newTestBroker(10_000)

	// Limit above the ask fills at the ask.
	ack, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindLimit,
		Quantity: 1, LimitPrice: 55,
	})
	require.NoError(t, err)

	ev, err := b.OrderStatus(context.Background(), ack.BrokerID)
	require.NoError(t, err)
	assert.Equal(t, 50.2, ev.AvgFillPrice)
}

func TestOrderUpdatesDeliversFills(t *testing.T) {
	b := newTestBroker(10_000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := b.OrderUpdates(ctx)
	require.NoError(t, err)

	ack, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 2,
	})
	require.NoError(t, err)

	select {
	case ev := <-updates:
		assert.Equal(t, ack.BrokerID, ev.BrokerID)
		assert.Equal(t, domain.OrderStatusFilled, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed on cancel")
	}
}

func TestCancelFilledOrderIsTerminal(t *testing.T) {
	b := newTestBroker(10_000)

	ack, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "TQQQ", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 1,
	})
	require.NoError(t, err)

	err = b.CancelOrder(context.Background(), ack.BrokerID)
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)

	err = b.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
