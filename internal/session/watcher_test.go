package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/domain"
)

type orderManagerFake struct {
	active      []domain.Order
	cancelled   []string
	resubmitted []string
	cancelErr   map[string]error
}

func (m *orderManagerFake) ListActive(context.Context) ([]domain.Order, error) {
	return m.active, nil
}

func (m *orderManagerFake) Cancel(_ context.Context, orderID string) error {
	if err := m.cancelErr[orderID]; err != nil {
		return err
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *orderManagerFake) Resubmit(_ context.Context, prev domain.Order) (domain.Order, error) {
	m.resubmitted = append(m.resubmitted, prev.ID)
	return domain.Order{ID: "new-" + prev.ID, Symbol: prev.Symbol, Tag: domain.OrderTagResubmit}, nil
}

type busFake struct {
	published []string
}

func (b *busFake) Publish(_ context.Context, channel string, _ []byte) error {
	b.published = append(b.published, channel)
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

func newTestWatcher(t *testing.T, orders *orderManagerFake, bus *busFake) *Watcher {
	t.Helper()
	cfg := config.Defaults().Sessions
	cfg.ResubmitDelay.Duration = 0
	cal, err := NewCalendar(cfg)
	require.NoError(t, err)
	return NewWatcher(cal, orders, bus, cfg, time.Second, slog.Default())
}

func TestStepNoChange(t *testing.T) {
	orders := &orderManagerFake{active: []domain.Order{{ID: "o1"}}}
	w := newTestWatcher(t, orders, &busFake{})

	w.now = func() time.Time { return nyTime(t, 10, 0, 0) }
	prev := w.sessionAt(w.now())
	require.NotNil(t, prev)

	next := w.step(context.Background(), prev)
	require.NotNil(t, next)
	assert.Equal(t, domain.SessionRTH, next.Name)
	assert.Empty(t, orders.cancelled)
}

func TestStepCancelsAndResubmitsAcrossBoundary(t *testing.T) {
	orders := &orderManagerFake{active: []domain.Order{
		{ID: "o1", Symbol: "SOXL"},
		{ID: "o2", Symbol: "TQQQ"},
	}}
	bus := &busFake{}
	w := newTestWatcher(t, orders, bus)

	// Premarket at the last poll, RTH now.
	w.now = func() time.Time { return nyTime(t, 9, 29, 59) }
	prev := w.sessionAt(w.now())
	require.Equal(t, domain.SessionPremarket, prev.Name)

	w.now = func() time.Time { return nyTime(t, 9, 30, 0) }
	next := w.step(context.Background(), prev)

	require.NotNil(t, next)
	assert.Equal(t, domain.SessionRTH, next.Name)
	assert.Equal(t, []string{"o1", "o2"}, orders.cancelled)
	assert.Equal(t, []string{"o1", "o2"}, orders.resubmitted)
	assert.Contains(t, bus.published, "events:session")
}

func TestStepDayEndCancelsWithoutResubmit(t *testing.T) {
	orders := &orderManagerFake{active: []domain.Order{{ID: "o1", Symbol: "SOXL"}}}
	w := newTestWatcher(t, orders, &busFake{})

	w.now = func() time.Time { return nyTime(t, 19, 59, 30) }
	prev := w.sessionAt(w.now())
	require.Equal(t, domain.SessionAfterHours, prev.Name)

	w.now = func() time.Time { return nyTime(t, 20, 0, 0) }
	next := w.step(context.Background(), prev)

	assert.Nil(t, next)
	assert.Equal(t, []string{"o1"}, orders.cancelled)
	assert.Empty(t, orders.resubmitted, "nothing to resubmit into once the day is over")
}

func TestStepSkipsResubmitForFailedCancel(t *testing.T) {
	orders := &orderManagerFake{
		active: []domain.Order{
			{ID: "o1", Symbol: "SOXL"},
			{ID: "o2", Symbol: "TQQQ"},
		},
		cancelErr: map[string]error{"o1": errors.New("gateway timeout")},
	}
	w := newTestWatcher(t, orders, &busFake{})

	w.now = func() time.Time { return nyTime(t, 9, 29, 0) }
	prev := w.sessionAt(w.now())
	w.now = func() time.Time { return nyTime(t, 9, 31, 0) }
	w.step(context.Background(), prev)

	// o1's cancel failed, so only o2 may be resubmitted.
	assert.Equal(t, []string{"o2"}, orders.cancelled)
	assert.Equal(t, []string{"o2"}, orders.resubmitted)
}

func TestStepNoResubmitWhenDisabled(t *testing.T) {
	orders := &orderManagerFake{active: []domain.Order{{ID: "o1", Symbol: "SOXL"}}}
	cfg := config.Defaults().Sessions
	cfg.ResubmitAcrossSessions = false
	cal, err := NewCalendar(cfg)
	require.NoError(t, err)
	w := NewWatcher(cal, orders, &busFake{}, cfg, time.Second, slog.Default())

	w.now = func() time.Time { return nyTime(t, 9, 29, 0) }
	prev := w.sessionAt(w.now())
	w.now = func() time.Time { return nyTime(t, 9, 31, 0) }
	w.step(context.Background(), prev)

	assert.Equal(t, []string{"o1"}, orders.cancelled)
	assert.Empty(t, orders.resubmitted)
}

func TestStepOvernightToPremarket(t *testing.T) {
	orders := &orderManagerFake{active: []domain.Order{{ID: "o1"}}}
	w := newTestWatcher(t, orders, &busFake{})

	// Market was closed, premarket just opened: nothing to cancel.
	w.now = func() time.Time { return nyTime(t, 3, 59, 59) }
	prev := w.sessionAt(w.now())
	require.Nil(t, prev)

	w.now = func() time.Time { return nyTime(t, 4, 0, 0) }
	next := w.step(context.Background(), prev)

	require.NotNil(t, next)
	assert.Equal(t, domain.SessionPremarket, next.Name)
	assert.Empty(t, orders.cancelled)
	assert.Empty(t, orders.resubmitted)
}
