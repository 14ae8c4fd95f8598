// Package engine runs the periodic trading tasks: core position management,
// entry signal scanning, gap checks, risk-off unwinding, performance
// tracking, and session watching. Each task is a ticker loop gated by
// trading hours; task errors are logged per symbol and never stop the loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/core"
	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/indicator"
	"github.com/levtrade/corebot/internal/orders"
	"github.com/levtrade/corebot/internal/perf"
	"github.com/levtrade/corebot/internal/risk"
	"github.com/levtrade/corebot/internal/session"
)

// shutdownTimeout bounds the cancel-all sweep when the engine stops.
const shutdownTimeout = 10 * time.Second

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotRunning     = errors.New("engine: not running")
)

// Deps collects every component the engine drives. All fields are required.
type Deps struct {
	Risk       *risk.Machine
	Guards     *risk.Guardrails
	Indicators *indicator.Provider
	Accountant *core.Accountant
	Orders     *orders.Manager
	Tracker    *perf.Tracker
	Calendar   *session.Calendar
	Watcher    *session.Watcher
	Broker     domain.Brokerage
	Data       domain.MarketData
	Signals    domain.SignalStore
	Lots       domain.CoreStore
	Bus        domain.EventBus
	Audit      domain.AuditStore
	Logger     *slog.Logger
}

// Config is the engine's slice of the application configuration.
type Config struct {
	Mode              string
	TradingSymbols    []string
	CoreWeights       map[string]float64
	OrderSizeFraction float64
	ProfitTarget      float64
	RSIOversold       float64
	Intervals         config.IntervalsConfig
}

// Engine owns the control loop. Start launches it in a background goroutine;
// Stop cancels it and waits. In monitor mode every task observes and records
// but no orders are placed.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	gapMu    sync.Mutex
	gapFired map[string]string // anchor "HH:MM" -> last fired day

	now func() time.Time
}

// New creates an Engine. It does not start any goroutines.
func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.With(slog.String("component", "engine")),
		gapFired: make(map[string]string),
		now:      time.Now,
	}
}

// Start launches the control loop. It returns ErrAlreadyRunning when the
// loop is already up. The loop runs detached from the caller's context; use
// Stop to end it.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.startedAt = time.Now().UTC()

	go func() {
		defer close(done)
		if err := e.run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("engine exited with error", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop cancels the control loop and waits for it to finish, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: stop: %w", ctx.Err())
	}
}

// Running reports whether the control loop is up.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// run blocks until ctx is cancelled. All periodic tasks share one errgroup;
// cancel-all runs once the group drains.
func (e *Engine) run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.String("mode", e.cfg.Mode),
		slog.Any("core_symbols", e.deps.Accountant.Symbols()),
		slog.Any("trading_symbols", e.cfg.TradingSymbols),
	)
	e.publish(ctx, "events:engine", map[string]string{"event": "engine_started", "mode": e.cfg.Mode})
	e.auditEvent(ctx, "engine_started", map[string]any{"mode": e.cfg.Mode})

	g, gctx := errgroup.WithContext(ctx)

	tasks := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context) error
	}{
		{"core", e.cfg.Intervals.Core.Duration, e.coreTick},
		{"signal", e.cfg.Intervals.Signal.Duration, e.signalTick},
		{"gap", e.cfg.Intervals.Gap.Duration, e.gapTick},
		{"risk", e.cfg.Intervals.Risk.Duration, e.riskTick},
		{"performance", e.cfg.Intervals.Performance.Duration, e.perfTick},
	}
	for _, t := range tasks {
		g.Go(func() error {
			err := e.runGated(gctx, t.name, t.interval, t.tick)
			if gctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("engine: %s task: %w", t.name, err)
		})
	}

	// The session watcher runs around the clock so the overnight boundary is
	// never missed.
	g.Go(func() error {
		err := e.deps.Watcher.Run(gctx)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("engine: session watcher: %w", err)
	})

	err := g.Wait()
	e.shutdown()
	return err
}

// runGated loops tick on interval while the market is open. Off hours the
// task sleeps the off-hours interval instead. The first tick fires
// immediately.
func (e *Engine) runGated(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) error {
	log := e.logger.With(slog.String("task", name))
	log.InfoContext(ctx, "task started", slog.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "task stopped")
			return ctx.Err()
		case <-timer.C:
		}

		wait := interval
		if e.deps.Calendar.InTradingHours(e.now()) {
			if err := tick(ctx); err != nil && ctx.Err() == nil {
				log.ErrorContext(ctx, "task tick failed", slog.Any("error", err))
			}
		} else {
			log.DebugContext(ctx, "outside trading hours, task idle")
			wait = e.cfg.Intervals.OffHours.Duration
		}
		timer.Reset(wait)
	}
}

// shutdown cancels working orders on a bounded background context; the loop
// context is already gone by the time this runs.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.deps.Orders.CancelAll(ctx); err != nil {
		e.logger.Error("shutdown order sweep incomplete", slog.Any("error", err))
	}
	e.publish(ctx, "events:engine", map[string]string{"event": "engine_stopped", "mode": e.cfg.Mode})
	e.auditEvent(ctx, "engine_stopped", map[string]any{"mode": e.cfg.Mode})
	e.logger.Info("engine stopped")
}

// Status summarizes the engine for the API and the websocket hub.
func (e *Engine) Status(ctx context.Context) domain.BotStatus {
	status := domain.BotStatus{
		Mode:    e.cfg.Mode,
		Session: "closed",
		Symbols: e.allSymbols(),
	}
	if sess, ok := e.deps.Calendar.Current(e.now()); ok {
		status.Session = string(sess.Name)
	}

	e.mu.Lock()
	if e.cancel != nil {
		status.UptimeSeconds = int64(time.Since(e.startedAt).Seconds())
	}
	e.mu.Unlock()

	if active, err := e.deps.Orders.ListActive(ctx); err == nil {
		status.OpenOrders = int32(len(active))
	} else {
		e.logger.DebugContext(ctx, "status: active orders unavailable", slog.Any("error", err))
	}
	if positions, err := e.deps.Broker.Positions(ctx); err == nil {
		for _, p := range positions {
			if p.Quantity != 0 {
				status.OpenPositions++
			}
		}
	} else {
		e.logger.DebugContext(ctx, "status: positions unavailable", slog.Any("error", err))
	}
	return status
}

// trading reports whether the engine is allowed to place orders.
func (e *Engine) trading() bool {
	return e.cfg.Mode != "monitor"
}

// allSymbols returns core symbols followed by trading-only symbols, without
// duplicates.
func (e *Engine) allSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range e.deps.Accountant.Symbols() {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range e.cfg.TradingSymbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// portfolio fetches one consistent account+positions view for a tick, so
// every sizing and guardrail decision within it sees the same numbers.
func (e *Engine) portfolio(ctx context.Context) (domain.Portfolio, error) {
	account, err := e.deps.Broker.Account(ctx)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("account: %w", err)
	}
	positions, err := e.deps.Broker.Positions(ctx)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("positions: %w", err)
	}
	pf := domain.Portfolio{
		Account:   account,
		Positions: make(map[string]domain.BrokerPosition, len(positions)),
	}
	for _, p := range positions {
		pf.Positions[p.Symbol] = p
	}
	return pf, nil
}

func (e *Engine) publish(ctx context.Context, channel string, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := e.deps.Bus.Publish(ctx, channel, evt); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := e.deps.Audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}
