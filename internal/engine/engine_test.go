package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/core"
	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/indicator"
	"github.com/levtrade/corebot/internal/orders"
	"github.com/levtrade/corebot/internal/perf"
	"github.com/levtrade/corebot/internal/risk"
	"github.com/levtrade/corebot/internal/session"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type stateLogFake struct {
	rows []domain.RiskState
}

func (s *stateLogFake) Append(_ context.Context, state domain.RiskState) (domain.RiskState, error) {
	state.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, state)
	return state, nil
}

func (s *stateLogFake) Latest(_ context.Context, symbol string) (domain.RiskState, error) {
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Symbol == symbol {
			return s.rows[i], nil
		}
	}
	return domain.RiskState{}, domain.ErrNotFound
}

func (s *stateLogFake) List(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.RiskState, error) {
	var out []domain.RiskState
	for _, r := range s.rows {
		if r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out, nil
}

type milestoneLogFake struct {
	rows []domain.PriceMilestone
}

func (s *milestoneLogFake) Append(_ context.Context, m domain.PriceMilestone) (domain.PriceMilestone, error) {
	m.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, m)
	return m, nil
}

func (s *milestoneLogFake) Latest(_ context.Context, symbol string, kind domain.MilestoneKind) (domain.PriceMilestone, error) {
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Symbol == symbol && s.rows[i].Kind == kind {
			return s.rows[i], nil
		}
	}
	return domain.PriceMilestone{}, domain.ErrNotFound
}

func (s *milestoneLogFake) List(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.PriceMilestone, error) {
	var out []domain.PriceMilestone
	for _, m := range s.rows {
		if m.Symbol == symbol {
			out = append(out, m)
		}
	}
	return out, nil
}

type coreStoreFake struct {
	lots       []domain.Lot
	unwinds    []domain.UnwindCycle
	progress   []domain.CoreProgress
	breakdowns []domain.PositionBreakdown
}

func (s *coreStoreFake) AppendLot(_ context.Context, lot domain.Lot) error {
	s.lots = append(s.lots, lot)
	return nil
}

func (s *coreStoreFake) CloseLot(_ context.Context, lotID string, closedAt time.Time) error {
	for i := range s.lots {
		if s.lots[i].ID == lotID {
			s.lots[i].Status = domain.LotStatusClosed
			s.lots[i].ClosedAt = &closedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *coreStoreFake) ReduceLot(_ context.Context, lotID string, quantity int64) error {
	for i := range s.lots {
		if s.lots[i].ID == lotID {
			s.lots[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *coreStoreFake) GetLot(_ context.Context, lotID string) (domain.Lot, error) {
	for _, l := range s.lots {
		if l.ID == lotID {
			return l, nil
		}
	}
	return domain.Lot{}, domain.ErrNotFound
}

func (s *coreStoreFake) ActiveLots(_ context.Context, symbol string, lotType domain.LotType) ([]domain.Lot, error) {
	var out []domain.Lot
	for _, l := range s.lots {
		if l.Symbol == symbol && l.Type == lotType && l.Status == domain.LotStatusOpen {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *coreStoreFake) CoreQuantity(_ context.Context, symbol string) (int64, error) {
	var qty int64
	for _, l := range s.lots {
		if l.Symbol == symbol && l.Type == domain.LotTypeCore && l.Status == domain.LotStatusOpen {
			qty += l.Quantity
		}
	}
	return qty, nil
}

func (s *coreStoreFake) CostBasis(_ context.Context, symbol string) (float64, error) {
	var basis float64
	for _, l := range s.lots {
		if l.Symbol == symbol && l.Type == domain.LotTypeCore && l.Status == domain.LotStatusOpen {
			basis += float64(l.Quantity) * l.Price
		}
	}
	return basis, nil
}

func (s *coreStoreFake) AppendUnwind(_ context.Context, u domain.UnwindCycle) (domain.UnwindCycle, error) {
	u.ID = int64(len(s.unwinds) + 1)
	s.unwinds = append(s.unwinds, u)
	return u, nil
}

func (s *coreStoreFake) LatestUnwind(_ context.Context, symbol string) (domain.UnwindCycle, error) {
	for i := len(s.unwinds) - 1; i >= 0; i-- {
		if s.unwinds[i].Symbol == symbol {
			return s.unwinds[i], nil
		}
	}
	return domain.UnwindCycle{}, domain.ErrNotFound
}

func (s *coreStoreFake) CountUnwinds(_ context.Context, symbol string, since time.Time) (int, error) {
	n := 0
	for _, u := range s.unwinds {
		if u.Symbol == symbol && u.RecordedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *coreStoreFake) AppendProgress(_ context.Context, p domain.CoreProgress) error {
	s.progress = append(s.progress, p)
	return nil
}

func (s *coreStoreFake) LatestProgress(_ context.Context, symbol string) (domain.CoreProgress, error) {
	for i := len(s.progress) - 1; i >= 0; i-- {
		if s.progress[i].Symbol == symbol {
			return s.progress[i], nil
		}
	}
	return domain.CoreProgress{}, domain.ErrNotFound
}

func (s *coreStoreFake) AppendBreakdown(_ context.Context, b domain.PositionBreakdown) error {
	s.breakdowns = append(s.breakdowns, b)
	return nil
}

func (s *coreStoreFake) LatestBreakdown(_ context.Context, symbol string) (domain.PositionBreakdown, error) {
	for i := len(s.breakdowns) - 1; i >= 0; i-- {
		if s.breakdowns[i].Symbol == symbol {
			return s.breakdowns[i], nil
		}
	}
	return domain.PositionBreakdown{}, domain.ErrNotFound
}

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

func (s *orderStoreFake) byTag(tag domain.OrderTag) []domain.Order {
	var out []domain.Order
	for _, o := range s.orders {
		if o.Tag == tag {
			out = append(out, o)
		}
	}
	return out
}

type signalStoreFake struct {
	entries []domain.EntrySignal
	gaps    []domain.GapEvent
}

func (s *signalStoreFake) AppendEntry(_ context.Context, sig domain.EntrySignal) (domain.EntrySignal, error) {
	sig.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, sig)
	return sig, nil
}

func (s *signalStoreFake) MarkActed(_ context.Context, id int64) error {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].ActedOn = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *signalStoreFake) LatestEntry(_ context.Context, symbol string) (domain.EntrySignal, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Symbol == symbol {
			return s.entries[i], nil
		}
	}
	return domain.EntrySignal{}, domain.ErrNotFound
}

func (s *signalStoreFake) AppendGap(_ context.Context, ev domain.GapEvent) (domain.GapEvent, error) {
	ev.ID = int64(len(s.gaps) + 1)
	s.gaps = append(s.gaps, ev)
	return ev, nil
}

func (s *signalStoreFake) ListGaps(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.GapEvent, error) {
	var out []domain.GapEvent
	for _, g := range s.gaps {
		if g.Symbol == symbol {
			out = append(out, g)
		}
	}
	return out, nil
}

type perfStoreFake struct {
	trades    []domain.TradePerformance
	snapshots []domain.PortfolioSnapshot
	coreRows  []domain.CorePerformance
}

func (p *perfStoreFake) RecordTrade(_ context.Context, tp domain.TradePerformance) error {
	p.trades = append(p.trades, tp)
	return nil
}

func (p *perfStoreFake) ListTrades(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.TradePerformance, error) {
	var out []domain.TradePerformance
	for _, tp := range p.trades {
		if symbol == "" || tp.Symbol == symbol {
			out = append(out, tp)
		}
	}
	return out, nil
}

func (p *perfStoreFake) SumPnL(_ context.Context, since time.Time) (float64, error) {
	var sum float64
	for _, tp := range p.trades {
		if tp.ClosedAt.After(since) {
			sum += tp.PnL
		}
	}
	return sum, nil
}

func (p *perfStoreFake) RecordSnapshot(_ context.Context, snap domain.PortfolioSnapshot) error {
	p.snapshots = append(p.snapshots, snap)
	return nil
}

func (p *perfStoreFake) LatestSnapshot(_ context.Context) (domain.PortfolioSnapshot, error) {
	if len(p.snapshots) == 0 {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return p.snapshots[len(p.snapshots)-1], nil
}

func (p *perfStoreFake) RecordCorePerf(_ context.Context, cp domain.CorePerformance) error {
	p.coreRows = append(p.coreRows, cp)
	return nil
}

func (p *perfStoreFake) LatestCorePerf(_ context.Context, symbol string) (domain.CorePerformance, error) {
	for i := len(p.coreRows) - 1; i >= 0; i-- {
		if p.coreRows[i].Symbol == symbol {
			return p.coreRows[i], nil
		}
	}
	return domain.CorePerformance{}, domain.ErrNotFound
}

type auditFake struct {
	events []string
}

func (a *auditFake) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditFake) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type busFake struct {
	published map[string][][]byte
}

func newBusFake() *busFake {
	return &busFake{published: map[string][][]byte{}}
}

func (b *busFake) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *busFake) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *busFake) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *busFake) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// nopBarCache always misses, so swapped bar series take effect on the next
// evaluation instead of being served from cache.
type nopBarCache struct{}

func (nopBarCache) SetBars(context.Context, string, domain.BarInterval, []domain.Bar, time.Duration) error {
	return nil
}

func (nopBarCache) GetBars(context.Context, string, domain.BarInterval) ([]domain.Bar, error) {
	return nil, domain.ErrNotFound
}

func (nopBarCache) SetHighs(context.Context, string, float64, float64, time.Duration) error {
	return nil
}

func (nopBarCache) GetHighs(context.Context, string) (float64, float64, error) {
	return 0, 0, domain.ErrNotFound
}

func (nopBarCache) Invalidate(context.Context, string) error { return nil }

type marketDataFake struct {
	quotes     map[string]domain.Quote
	series     map[string][]domain.Bar
	prevCloses map[string]float64
}

func newMarketDataFake() *marketDataFake {
	return &marketDataFake{
		quotes:     map[string]domain.Quote{},
		series:     map[string][]domain.Bar{},
		prevCloses: map[string]float64{},
	}
}

func (m *marketDataFake) setBars(symbol string, interval domain.BarInterval, closes []float64) {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:   symbol,
			Interval: interval,
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Start:    start.Add(time.Duration(i) * time.Hour),
		}
	}
	m.series[symbol+"|"+string(interval)] = bars
}

func (m *marketDataFake) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrDataUnavailable
	}
	return q, nil
}

func (m *marketDataFake) Bars(_ context.Context, symbol string, interval domain.BarInterval, _ int, _ time.Time) ([]domain.Bar, error) {
	bars, ok := m.series[symbol+"|"+string(interval)]
	if !ok {
		return nil, domain.ErrDataUnavailable
	}
	return bars, nil
}

func (m *marketDataFake) PrevDailyClose(_ context.Context, symbol string) (float64, error) {
	pc, ok := m.prevCloses[symbol]
	if !ok {
		return 0, domain.ErrDataUnavailable
	}
	return pc, nil
}

// brokerFake acknowledges every order and reports it filled on the first
// status poll: limit orders at their limit, market orders at fillPrice.
// CancelOrder flips a still-working order to CANCELLED.
type brokerFake struct {
	seq       int
	placed    map[string]domain.OrderRequest
	state     map[string]domain.OrderStatus
	account   domain.AccountSnapshot
	positions []domain.BrokerPosition
	fillPrice float64
}

func newBrokerFake() *brokerFake {
	return &brokerFake{
		placed:  map[string]domain.OrderRequest{},
		state:   map[string]domain.OrderStatus{},
		account: domain.AccountSnapshot{Equity: 100_000, Cash: 100_000},
	}
}

func (b *brokerFake) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	b.seq++
	id := fmt.Sprintf("brk-%d", b.seq)
	b.placed[id] = req
	b.state[id] = domain.OrderStatusSubmitted
	return domain.OrderAck{BrokerID: id, Status: domain.OrderStatusSubmitted}, nil
}

func (b *brokerFake) CancelOrder(_ context.Context, brokerID string) error {
	if _, ok := b.placed[brokerID]; !ok {
		return domain.ErrNotFound
	}
	if !b.state[brokerID].Terminal() {
		b.state[brokerID] = domain.OrderStatusCancelled
	}
	return nil
}

func (b *brokerFake) OrderStatus(_ context.Context, brokerID string) (domain.OrderStatusEvent, error) {
	req, ok := b.placed[brokerID]
	if !ok {
		return domain.OrderStatusEvent{}, domain.ErrNotFound
	}
	if b.state[brokerID] == domain.OrderStatusSubmitted {
		b.state[brokerID] = domain.OrderStatusFilled
	}
	ev := domain.OrderStatusEvent{
		BrokerID:   brokerID,
		Status:     b.state[brokerID],
		OccurredAt: time.Now().UTC(),
	}
	switch ev.Status {
	case domain.OrderStatusFilled:
		ev.FilledQty = req.Quantity
		ev.AvgFillPrice = req.LimitPrice
		if ev.AvgFillPrice <= 0 {
			ev.AvgFillPrice = b.fillPrice
		}
	case domain.OrderStatusCancelled:
		ev.RemainingQty = req.Quantity
	}
	return ev, nil
}

func (b *brokerFake) Account(context.Context) (domain.AccountSnapshot, error) {
	return b.account, nil
}

func (b *brokerFake) Positions(context.Context) ([]domain.BrokerPosition, error) {
	return b.positions, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

// Fixed exchange-local instants: 2026-02-03 is a Tuesday, 2026-02-07 a
// Saturday.
const (
	rthClock       = "2026-02-03 11:00:00"
	premarketClock = "2026-02-03 05:00:00"
	weekendClock   = "2026-02-07 11:00:00"
)

// fifteenMinCrossover drives the RSI to zero, then recovers through the
// oversold line and holds above it on the final bar.
var fifteenMinCrossover = []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 101, 111}

func flatCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func risingCloses(n int, from float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)
	}
	return out
}

func fallingCloses(n int, from float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from - float64(i)
	}
	return out
}

type fixture struct {
	eng        *Engine
	mgr        *orders.Manager
	states     *stateLogFake
	milestones *milestoneLogFake
	lots       *coreStoreFake
	orderRows  *orderStoreFake
	signals    *signalStoreFake
	perfRows   *perfStoreFake
	broker     *brokerFake
	data       *marketDataFake
	bus        *busFake
	audit      *auditFake
	loc        *time.Location
}

// newFixture wires real components over in-memory fakes: one core symbol
// (SOXL at 5%) and one trading symbol (TSLL), default sizing and thresholds.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.Default()
	cfg := config.Defaults()

	states := &stateLogFake{}
	milestones := &milestoneLogFake{}
	lots := &coreStoreFake{}
	orderRows := newOrderStoreFake()
	signals := &signalStoreFake{}
	perfRows := &perfStoreFake{}
	broker := newBrokerFake()
	data := newMarketDataFake()
	bus := newBusFake()
	audit := &auditFake{}

	cal, err := session.NewCalendar(cfg.Sessions)
	require.NoError(t, err)

	mgr := orders.NewManager(orderRows, lots, perfRows, broker, cal, bus, audit, orders.Fractions{
		ProfitTarget:  cfg.Trading.ProfitTargetFraction,
		GapSellOffset: cfg.Trading.GapSellOffset,
		GapExitOffset: cfg.Trading.GapExitOffset,
	}, logger)

	guards := risk.NewGuardrails(risk.Limits{
		MaxPositionBuffer: cfg.Trading.MaxPositionBuffer,
		MinCashReserve:    cfg.Trading.MinCashReserve,
		MaxTotalInvested:  cfg.Trading.MaxTotalInvested,
		CoreExposure:      cfg.Trading.CoreExposureFraction,
		MaxExposure:       cfg.Trading.MaxExposureFraction,
	})
	machine := risk.NewMachine(states, milestones, bus, risk.Thresholds{
		Overbought: cfg.Trading.RSIOverbought,
		Oversold:   cfg.Trading.RSIOversold,
	}, logger)
	provider := indicator.NewProvider(data, nopBarCache{}, cfg.Trading.RSIPeriod, logger)

	weights := map[string]float64{"SOXL": 0.05}
	acct := core.NewAccountant(lots, states, data, mgr, guards, audit, bus, core.Sizing{
		OrderSizeFraction: cfg.Trading.OrderSizeFraction,
		RetainFraction:    cfg.Trading.RetainFraction,
		UnwindFraction:    cfg.Trading.CoreUnwindFraction,
		Weights:           weights,
	}, logger)
	tracker := perf.NewTracker(perfRows, lots, data, logger)
	watcher := session.NewWatcher(cal, mgr, bus, cfg.Sessions, cfg.Intervals.SessionPoll.Duration, logger)

	eng := New(Deps{
		Risk:       machine,
		Guards:     guards,
		Indicators: provider,
		Accountant: acct,
		Orders:     mgr,
		Tracker:    tracker,
		Calendar:   cal,
		Watcher:    watcher,
		Broker:     broker,
		Data:       data,
		Signals:    signals,
		Lots:       lots,
		Bus:        bus,
		Audit:      audit,
		Logger:     logger,
	}, Config{
		Mode:              "trade",
		TradingSymbols:    []string{"TSLL"},
		CoreWeights:       weights,
		OrderSizeFraction: cfg.Trading.OrderSizeFraction,
		ProfitTarget:      cfg.Trading.ProfitTargetFraction,
		RSIOversold:       cfg.Trading.RSIOversold,
		Intervals:         cfg.Intervals,
	})

	f := &fixture{
		eng:        eng,
		mgr:        mgr,
		states:     states,
		milestones: milestones,
		lots:       lots,
		orderRows:  orderRows,
		signals:    signals,
		perfRows:   perfRows,
		broker:     broker,
		data:       data,
		bus:        bus,
		audit:      audit,
		loc:        cal.Location(),
	}
	f.pin(f.at(t, rthClock))
	return f
}

// pin freezes the engine clock.
func (f *fixture) pin(at time.Time) {
	f.eng.now = func() time.Time { return at }
}

// at parses an exchange-local instant.
func (f *fixture) at(t *testing.T, value string) time.Time {
	t.Helper()
	at, err := time.ParseInLocation("2006-01-02 15:04:05", value, f.loc)
	require.NoError(t, err)
	return at
}

// seedCalmHistory gives symbol mid-range weekly and daily readings: flat RSI,
// price well below both high-water marks.
func (f *fixture) seedCalmHistory(symbol string) {
	f.data.setBars(symbol, domain.BarWeekly, flatCloses(10, 100))
	f.data.setBars(symbol, domain.BarDaily, flatCloses(10, 100))
}

// ---------------------------------------------------------------------------
// Control loop
// ---------------------------------------------------------------------------

func TestRunGatedIdlesOutsideTradingHours(t *testing.T) {
	f := newFixture(t)
	f.pin(f.at(t, weekendClock))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	ticks := 0
	err := f.eng.runGated(ctx, "ticker", time.Millisecond, func(context.Context) error {
		ticks++
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, ticks, "weekend ticks must not run the task")
}

func TestRunGatedFirstTickIsImmediate(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := 0
	err := f.eng.runGated(ctx, "ticker", time.Millisecond, func(context.Context) error {
		ticks++
		if ticks == 2 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, ticks)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	f.pin(f.at(t, weekendClock))

	require.NoError(t, f.eng.Start())
	assert.True(t, f.eng.Running())
	assert.ErrorIs(t, f.eng.Start(), ErrAlreadyRunning)

	require.NoError(t, f.eng.Stop(context.Background()))
	assert.False(t, f.eng.Running())
	assert.ErrorIs(t, f.eng.Stop(context.Background()), ErrNotRunning)

	assert.Contains(t, f.audit.events, "engine_started")
	assert.Contains(t, f.audit.events, "engine_stopped")
	assert.Len(t, f.bus.published["events:engine"], 2)
}

func TestStatusSummarizesEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orderRows.orders["o-1"] = domain.Order{
		ID: "o-1", Symbol: "TSLL", Action: domain.OrderActionSell,
		Status: domain.OrderStatusSubmitted,
	}
	f.broker.positions = []domain.BrokerPosition{
		{Symbol: "SOXL", Quantity: 95},
		{Symbol: "TSLL", Quantity: 0},
	}

	st := f.eng.Status(ctx)
	assert.Equal(t, "trade", st.Mode)
	assert.Equal(t, "RTH", st.Session)
	assert.Equal(t, int32(1), st.OpenOrders)
	assert.Equal(t, int32(1), st.OpenPositions, "flat positions do not count")
	assert.Zero(t, st.UptimeSeconds)
	assert.Equal(t, []string{"SOXL", "TSLL"}, st.Symbols)

	f.pin(f.at(t, weekendClock))
	assert.Equal(t, "closed", f.eng.Status(ctx).Session)
}
