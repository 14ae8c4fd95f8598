package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/domain"
)

// OrderManager is the slice of the order lifecycle manager the watcher
// drives at session boundaries.
type OrderManager interface {
	ListActive(ctx context.Context) ([]domain.Order, error)
	Cancel(ctx context.Context, orderID string) error
	Resubmit(ctx context.Context, prev domain.Order) (domain.Order, error)
}

// Watcher polls the calendar and, when the active session rolls over,
// cancels working orders from a cancel-at-end window and optionally
// resubmits them into the new one.
type Watcher struct {
	cal      *Calendar
	orders   OrderManager
	bus      domain.EventBus
	poll     time.Duration
	resubmit bool
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewWatcher creates a Watcher. poll is how often the clock is observed.
func NewWatcher(
	cal *Calendar,
	orders OrderManager,
	bus domain.EventBus,
	cfg config.SessionsConfig,
	poll time.Duration,
	logger *slog.Logger,
) *Watcher {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Watcher{
		cal:      cal,
		orders:   orders,
		bus:      bus,
		poll:     poll,
		resubmit: cfg.ResubmitAcrossSessions,
		delay:    cfg.ResubmitDelay.Duration,
		logger:   logger.With(slog.String("component", "session_watcher")),
		now:      time.Now,
	}
}

// Run polls for session boundaries until ctx is cancelled. Call in a
// goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	prev := w.sessionAt(w.now())
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			prev = w.step(ctx, prev)
		}
	}
}

func (w *Watcher) sessionAt(t time.Time) *domain.Session {
	if s, ok := w.cal.Current(t); ok {
		return &s
	}
	return nil
}

// step observes the clock once and handles any boundary crossed since the
// previous observation. Returns the session now active.
func (w *Watcher) step(ctx context.Context, prev *domain.Session) *domain.Session {
	now := w.now()
	cur := w.sessionAt(now)
	if sameSession(prev, cur) {
		return cur
	}
	w.handleChange(ctx, domain.SessionChange{Previous: prev, Current: cur, At: now})
	return cur
}

func sameSession(a, b *domain.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name
}

func (w *Watcher) handleChange(ctx context.Context, change domain.SessionChange) {
	w.logger.InfoContext(ctx, "session change",
		slog.String("from", nameOf(change.Previous)),
		slog.String("to", nameOf(change.Current)),
	)
	w.publish(ctx, change)

	if change.Previous == nil || !change.Previous.CancelAtEnd {
		return
	}

	active, err := w.orders.ListActive(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "session rollover: list active orders failed",
			slog.Any("error", err),
		)
		return
	}
	if len(active) == 0 {
		return
	}

	var cancelled []domain.Order
	for _, o := range active {
		if err := w.orders.Cancel(ctx, o.ID); err != nil {
			w.logger.WarnContext(ctx, "session rollover: cancel failed",
				slog.String("order_id", o.ID),
				slog.String("symbol", o.Symbol),
				slog.Any("error", err),
			)
			continue
		}
		cancelled = append(cancelled, o)
	}
	w.logger.InfoContext(ctx, "session rollover: cancelled working orders",
		slog.String("session", nameOf(change.Previous)),
		slog.Int("cancelled", len(cancelled)),
	)

	// Resubmission only makes sense into an open session; orders cancelled
	// at the close of the last window of the day stay cancelled.
	if !w.resubmit || change.Current == nil || len(cancelled) == 0 {
		return
	}
	if w.delay > 0 {
		t := time.NewTimer(w.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	for _, o := range cancelled {
		fresh, err := w.orders.Resubmit(ctx, o)
		if err != nil {
			w.logger.WarnContext(ctx, "session rollover: resubmit failed",
				slog.String("order_id", o.ID),
				slog.String("symbol", o.Symbol),
				slog.Any("error", err),
			)
			continue
		}
		w.logger.InfoContext(ctx, "order resubmitted into new session",
			slog.String("old_order_id", o.ID),
			slog.String("new_order_id", fresh.ID),
			slog.String("session", nameOf(change.Current)),
		)
	}
}

func nameOf(s *domain.Session) string {
	if s == nil {
		return "closed"
	}
	return string(s.Name)
}

func (w *Watcher) publish(ctx context.Context, change domain.SessionChange) {
	evt, _ := json.Marshal(map[string]string{
		"event": "session_change",
		"from":  nameOf(change.Previous),
		"to":    nameOf(change.Current),
		"at":    change.At.UTC().Format(time.RFC3339),
	})
	if err := w.bus.Publish(ctx, "events:session", evt); err != nil {
		w.logger.WarnContext(ctx, "session change publish failed",
			slog.Any("error", err),
		)
	}
}
