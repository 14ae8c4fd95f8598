package orders

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type orderStoreFake struct {
	orders  map[string]domain.Order
	history []domain.OrderStatusEvent
}

func newOrderStoreFake() *orderStoreFake {
	return &orderStoreFake{orders: map[string]domain.Order{}}
}

func (s *orderStoreFake) Create(_ context.Context, order domain.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *orderStoreFake) UpdateSnapshot(_ context.Context, order domain.Order) error {
	if _, ok := s.orders[order.ID]; !ok {
		return domain.ErrNotFound
	}
	s.orders[order.ID] = order
	return nil
}

func (s *orderStoreFake) AppendStatusEvent(_ context.Context, ev domain.OrderStatusEvent) error {
	ev.ID = int64(len(s.history) + 1)
	s.history = append(s.history, ev)
	return nil
}

func (s *orderStoreFake) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *orderStoreFake) GetByBrokerID(_ context.Context, brokerID string) (domain.Order, error) {
	for _, o := range s.orders {
		if o.BrokerID == brokerID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *orderStoreFake) ListActive(_ context.Context) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if !o.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *orderStoreFake) ListActiveBySymbol(_ context.Context, symbol string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if !o.Terminal() && o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *orderStoreFake) ListActiveSellsForLot(_ context.Context, lotID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if !o.Terminal() && o.Action == domain.OrderActionSell && o.LotID != nil && *o.LotID == lotID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *orderStoreFake) StatusHistory(_ context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	var out []domain.OrderStatusEvent
	for _, ev := range s.history {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *orderStoreFake) List(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

type placeResult struct {
	ack domain.OrderAck
	err error
}

type brokerFake struct {
	placeResults []placeResult
	placeCalls   int
	cancelCalls  []string
	cancelErr    error
	statusQueue  map[string][]domain.OrderStatusEvent
}

func newBrokerFake() *brokerFake {
	return &brokerFake{statusQueue: map[string][]domain.OrderStatusEvent{}}
}

func (b *brokerFake) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderAck, error) {
	i := b.placeCalls
	b.placeCalls++
	if i >= len(b.placeResults) {
		i = len(b.placeResults) - 1
	}
	if i < 0 {
		return domain.OrderAck{BrokerID: "brk-1", Status: domain.OrderStatusSubmitted}, nil
	}
	return b.placeResults[i].ack, b.placeResults[i].err
}

func (b *brokerFake) CancelOrder(_ context.Context, brokerID string) error {
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancelCalls = append(b.cancelCalls, brokerID)
	return nil
}

// OrderStatus pops the next scripted event for the broker order; the last
// one repeats so pollers converge.
func (b *brokerFake) OrderStatus(_ context.Context, brokerID string) (domain.OrderStatusEvent, error) {
	q := b.statusQueue[brokerID]
	if len(q) == 0 {
		return domain.OrderStatusEvent{}, domain.ErrNotFound
	}
	ev := q[0]
	if len(q) > 1 {
		b.statusQueue[brokerID] = q[1:]
	}
	return ev, nil
}

func (b *brokerFake) Account(context.Context) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{Equity: 100_000, Cash: 50_000}, nil
}

func (b *brokerFake) Positions(context.Context) ([]domain.BrokerPosition, error) {
	return nil, nil
}

type lotsFake struct {
	lots []domain.Lot
}

func (s *lotsFake) AppendLot(_ context.Context, lot domain.Lot) error {
	s.lots = append(s.lots, lot)
	return nil
}

func (s *lotsFake) CloseLot(_ context.Context, lotID string, closedAt time.Time) error {
	for i := range s.lots {
		if s.lots[i].ID == lotID {
			s.lots[i].Status = domain.LotStatusClosed
			s.lots[i].ClosedAt = &closedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *lotsFake) ReduceLot(_ context.Context, lotID string, quantity int64) error {
	for i := range s.lots {
		if s.lots[i].ID == lotID {
			s.lots[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *lotsFake) GetLot(_ context.Context, lotID string) (domain.Lot, error) {
	for _, l := range s.lots {
		if l.ID == lotID {
			return l, nil
		}
	}
	return domain.Lot{}, domain.ErrNotFound
}

func (s *lotsFake) ActiveLots(_ context.Context, symbol string, lotType domain.LotType) ([]domain.Lot, error) {
	var out []domain.Lot
	for _, l := range s.lots {
		if l.Symbol == symbol && l.Type == lotType && l.Status == domain.LotStatusOpen {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *lotsFake) CoreQuantity(context.Context, string) (int64, error) { return 0, nil }

func (s *lotsFake) CostBasis(context.Context, string) (float64, error) { return 0, nil }

func (s *lotsFake) AppendUnwind(_ context.Context, u domain.UnwindCycle) (domain.UnwindCycle, error) {
	return u, nil
}

func (s *lotsFake) LatestUnwind(context.Context, string) (domain.UnwindCycle, error) {
	return domain.UnwindCycle{}, domain.ErrNotFound
}

func (s *lotsFake) CountUnwinds(context.Context, string, time.Time) (int, error) { return 0, nil }

func (s *lotsFake) AppendProgress(context.Context, domain.CoreProgress) error { return nil }

func (s *lotsFake) LatestProgress(context.Context, string) (domain.CoreProgress, error) {
	return domain.CoreProgress{}, domain.ErrNotFound
}

func (s *lotsFake) AppendBreakdown(context.Context, domain.PositionBreakdown) error { return nil }

func (s *lotsFake) LatestBreakdown(context.Context, string) (domain.PositionBreakdown, error) {
	return domain.PositionBreakdown{}, domain.ErrNotFound
}

type perfFake struct {
	trades []domain.TradePerformance
}

func (p *perfFake) RecordTrade(_ context.Context, tp domain.TradePerformance) error {
	p.trades = append(p.trades, tp)
	return nil
}

func (p *perfFake) ListTrades(context.Context, string, domain.ListOpts) ([]domain.TradePerformance, error) {
	return p.trades, nil
}

func (p *perfFake) SumPnL(context.Context, time.Time) (float64, error) { return 0, nil }

func (p *perfFake) RecordSnapshot(context.Context, domain.PortfolioSnapshot) error { return nil }

func (p *perfFake) LatestSnapshot(context.Context) (domain.PortfolioSnapshot, error) {
	return domain.PortfolioSnapshot{}, domain.ErrNotFound
}

func (p *perfFake) RecordCorePerf(context.Context, domain.CorePerformance) error { return nil }

func (p *perfFake) LatestCorePerf(context.Context, string) (domain.CorePerformance, error) {
	return domain.CorePerformance{}, domain.ErrNotFound
}

type rthSource struct{}

func (rthSource) Current(time.Time) (domain.Session, bool) {
	return domain.Session{Name: domain.SessionRTH, CancelAtEnd: true}, true
}

type nopBus struct{}

func (nopBus) Publish(context.Context, string, []byte) error { return nil }
func (nopBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (nopBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (nopBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, map[string]any) error { return nil }
func (nopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fixture struct {
	mgr    *Manager
	store  *orderStoreFake
	broker *brokerFake
	lots   *lotsFake
	perf   *perfFake
}

func newFixture() *fixture {
	store := newOrderStoreFake()
	broker := newBrokerFake()
	lots := &lotsFake{}
	perf := &perfFake{}
	mgr := NewManager(store, lots, perf, broker, rthSource{}, nopBus{}, nopAudit{}, Fractions{
		ProfitTarget:  0.05,
		GapSellOffset: 0.005,
		GapExitOffset: 0.001,
	}, slog.Default())
	mgr.backoff = func(int) time.Duration { return 0 }
	return &fixture{mgr: mgr, store: store, broker: broker, lots: lots, perf: perf}
}

func buyRequest(qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   "SOXL",
		Action:   domain.OrderActionBuy,
		Kind:     domain.OrderKindMarket,
		Quantity: qty,
		Tag:      domain.OrderTagEntry,
	}
}

func submittedAck(brokerID string) placeResult {
	return placeResult{ack: domain.OrderAck{BrokerID: brokerID, Status: domain.OrderStatusSubmitted}}
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmitValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.OrderRequest
	}{
		{"missing symbol", domain.OrderRequest{Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket, Quantity: 1}},
		{"zero quantity", domain.OrderRequest{Symbol: "SOXL", Action: domain.OrderActionBuy, Kind: domain.OrderKindMarket}},
		{"bad action", domain.OrderRequest{Symbol: "SOXL", Action: "HOLD", Kind: domain.OrderKindMarket, Quantity: 1}},
		{"bad kind", domain.OrderRequest{Symbol: "SOXL", Action: domain.OrderActionBuy, Kind: "STOP", Quantity: 1}},
		{"limit without price", domain.OrderRequest{Symbol: "SOXL", Action: domain.OrderActionSell, Kind: domain.OrderKindLimit, Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Submit(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
	assert.Zero(t, f.broker.placeCalls, "invalid requests must never reach the brokerage")
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{
		{err: domain.ErrBrokerUnavailable},
		{err: domain.ErrRateLimited},
		submittedAck("brk-1"),
	}

	order, err := f.mgr.Submit(context.Background(), buyRequest(10))
	require.NoError(t, err)
	assert.Equal(t, 3, f.broker.placeCalls)
	assert.Equal(t, "brk-1", order.BrokerID)
	assert.Equal(t, domain.OrderStatusSubmitted, order.Status)

	// Exactly one order row and one SUBMITTED event despite the retries.
	assert.Len(t, f.store.orders, 1)
	history, err := f.store.StatusHistory(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OrderStatusSubmitted, history[0].Status)
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{{err: domain.ErrBrokerUnavailable}}

	_, err := f.mgr.Submit(context.Background(), buyRequest(10))
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	assert.Equal(t, submitAttempts, f.broker.placeCalls)
	assert.Empty(t, f.store.orders)
}

func TestSubmitRejectionIsFinal(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{{err: domain.ErrOrderRejected}}

	_, err := f.mgr.Submit(context.Background(), buyRequest(10))
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Equal(t, 1, f.broker.placeCalls, "rejections must not be retried")
	assert.Empty(t, f.store.orders)
}

func TestSubmitStampsSession(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}

	order, err := f.mgr.Submit(context.Background(), buyRequest(10))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRTH, order.Session)
}

// ---------------------------------------------------------------------------
// Status application
// ---------------------------------------------------------------------------

func TestApplyStatusEventHistoryAppendOnly(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)

	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusPartiallyFilled,
		FilledQty: 4, RemainingQty: 6, AvgFillPrice: 10,
	})
	require.NoError(t, err)
	final, err := f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 10, RemainingQty: 0, AvgFillPrice: 10.01,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, final.Status)
	assert.Equal(t, int64(10), final.FilledQty)

	history, err := f.mgr.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.OrderStatusSubmitted, history[0].Status)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, history[1].Status)
	assert.Equal(t, domain.OrderStatusFilled, history[2].Status)
}

func TestApplyStatusEventDeduplicates(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)

	ev := domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusPartiallyFilled,
		FilledQty: 4, RemainingQty: 6,
	}
	_, err = f.mgr.ApplyStatusEvent(ctx, ev)
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, ev)
	require.NoError(t, err)

	history, err := f.mgr.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "redelivered event must not add a history row")
}

func TestTerminalOrderNeverResurrects(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled, FilledQty: 10,
	})
	require.NoError(t, err)

	// A late PARTIALLY_FILLED replay must not reopen the order.
	got, err := f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusPartiallyFilled, FilledQty: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	stored, err := f.mgr.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)
}

func TestStatusEventBeforeRowPersistsIsReplayed(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	// A synchronous brokerage can report the fill before Submit has stored
	// the order row. The event must wait for the row, not get dropped.
	_, err := f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 10, AvgFillPrice: 10.25,
	})
	require.NoError(t, err)
	assert.Empty(t, f.store.orders)

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, int64(10), order.FilledQty)
	assert.Equal(t, 10.25, order.AvgFillPrice)

	stored, err := f.mgr.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)

	history, err := f.mgr.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.OrderStatusSubmitted, history[0].Status)
	assert.Equal(t, domain.OrderStatusFilled, history[1].Status)
}

func TestBufferedEventsReplayInArrivalOrder(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	_, err := f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusPartiallyFilled,
		FilledQty: 4, RemainingQty: 6, AvgFillPrice: 10,
	})
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled,
		FilledQty: 10, AvgFillPrice: 10.02,
	})
	require.NoError(t, err)

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)

	history, err := f.mgr.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, history[1].Status)
	assert.Equal(t, domain.OrderStatusFilled, history[2].Status)
}

func TestStatusEventWithoutReference(t *testing.T) {
	f := newFixture()
	_, err := f.mgr.ApplyStatusEvent(context.Background(), domain.OrderStatusEvent{
		Status: domain.OrderStatusFilled,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancelConfirmsBeforeMarking(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusCancelled, RemainingQty: 10},
	}

	require.NoError(t, f.mgr.Cancel(ctx, order.ID))
	assert.Equal(t, []string{"brk-1"}, f.broker.cancelCalls)

	stored, err := f.mgr.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture()
	err := f.mgr.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelTerminalOrder(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	_, err = f.mgr.ApplyStatusEvent(ctx, domain.OrderStatusEvent{
		BrokerID: "brk-1", Status: domain.OrderStatusFilled, FilledQty: 10,
	})
	require.NoError(t, err)

	err = f.mgr.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)
}

func TestCancelLosesRaceToFill(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1")}
	ctx := context.Background()

	order, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusFilled, FilledQty: 10, AvgFillPrice: 10},
	}

	err = f.mgr.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)

	stored, err := f.mgr.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status, "the fill wins")
}

// ---------------------------------------------------------------------------
// Resubmit / CancelAll
// ---------------------------------------------------------------------------

func TestResubmitUnfilledRemainder(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-2")}
	ctx := context.Background()

	lotID := "lot-1"
	limit := 10.50
	prev := domain.Order{
		ID: "old", BrokerID: "brk-1", Symbol: "SOXL",
		Action: domain.OrderActionSell, Kind: domain.OrderKindLimit,
		Quantity: 10, FilledQty: 4, RemainingQty: 6,
		LimitPrice: &limit, LotID: &lotID,
		Status: domain.OrderStatusCancelled,
	}

	fresh, err := f.mgr.Resubmit(ctx, prev)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderTagResubmit, fresh.Tag)
	assert.Equal(t, int64(6), fresh.Quantity)
	require.NotNil(t, fresh.LimitPrice)
	assert.Equal(t, limit, *fresh.LimitPrice)
	require.NotNil(t, fresh.LotID)
	assert.Equal(t, lotID, *fresh.LotID)
	assert.NotEqual(t, prev.ID, fresh.ID)
}

func TestResubmitFullyFilled(t *testing.T) {
	f := newFixture()
	prev := domain.Order{ID: "old", Symbol: "SOXL", Action: domain.OrderActionBuy,
		Kind: domain.OrderKindMarket, Quantity: 10, FilledQty: 10}
	_, err := f.mgr.Resubmit(context.Background(), prev)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestCancelAll(t *testing.T) {
	f := newFixture()
	f.broker.placeResults = []placeResult{submittedAck("brk-1"), submittedAck("brk-2")}
	ctx := context.Background()

	first, err := f.mgr.Submit(ctx, buyRequest(10))
	require.NoError(t, err)
	second, err := f.mgr.Submit(ctx, buyRequest(5))
	require.NoError(t, err)

	f.broker.statusQueue["brk-1"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-1", Status: domain.OrderStatusCancelled},
	}
	f.broker.statusQueue["brk-2"] = []domain.OrderStatusEvent{
		{BrokerID: "brk-2", Status: domain.OrderStatusCancelled},
	}

	require.NoError(t, f.mgr.CancelAll(ctx))
	for _, id := range []string{first.ID, second.ID} {
		o, err := f.mgr.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}
}
