package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/levtrade/corebot/internal/core"
	"github.com/levtrade/corebot/internal/crypto"
	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/engine"
	"github.com/levtrade/corebot/internal/indicator"
	"github.com/levtrade/corebot/internal/metrics"
	"github.com/levtrade/corebot/internal/orders"
	"github.com/levtrade/corebot/internal/perf"
	"github.com/levtrade/corebot/internal/platform/brokerage"
	"github.com/levtrade/corebot/internal/platform/paper"
	"github.com/levtrade/corebot/internal/risk"
	"github.com/levtrade/corebot/internal/server"
	"github.com/levtrade/corebot/internal/server/handler"
	"github.com/levtrade/corebot/internal/server/ws"
	"github.com/levtrade/corebot/internal/session"
)

// engineLockTTL bounds how long a crashed instance can block a restart.
const engineLockTTL = time.Hour

// runtime bundles the assembled engine and the components the HTTP layer and
// background jobs need direct access to.
type runtime struct {
	engine   *engine.Engine
	manager  *orders.Manager
	tracker  *perf.Tracker
	calendar *session.Calendar
	stream   domain.OrderStream // nil in monitor mode
	recorder *metrics.Recorder  // nil when metrics are disabled
}

// TradeMode runs the engine against the live brokerage gateway. A distributed
// lock keyed by account guards against two live instances trading at once.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("account", a.cfg.Broker.Account),
	)

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           a.cfg.Broker.ApiSecret,
		EncryptedSecretPath: a.cfg.Broker.EncryptedSecretPath,
		SecretPassword:      a.cfg.Broker.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: load broker secret: %w", err)
	}

	clientCfg := brokerage.ClientConfig{
		BaseURL: a.cfg.Broker.BaseURL,
		Key:     a.cfg.Broker.ApiKey,
		Secret:  secret,
		Account: a.cfg.Broker.Account,
		Timeout: a.cfg.Broker.Timeout.Duration,
	}
	client := brokerage.NewClient(clientCfg, deps.RateLimiter)
	data := brokerage.NewCachedData(client, deps.QuoteCache, 0, a.logger)
	stream := brokerage.NewStream(a.cfg.Broker.WsURL, clientCfg, a.logger)

	unlock, err := deps.LockManager.Acquire(ctx, "engine:trade:"+a.cfg.Broker.Account, engineLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance is already trading account %s: %w", a.cfg.Broker.Account, err)
		}
		return fmt.Errorf("trade mode: engine lock: %w", err)
	}
	defer unlock()

	rt, err := a.buildRuntime(deps, client, stream, data)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	return a.runEngine(ctx, deps, rt)
}

// PaperMode runs the engine against the in-process paper broker. Market data
// still comes from the gateway; fills are simulated against live quotes.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("initial_cash", a.cfg.Broker.InitialCash),
	)

	clientCfg := brokerage.ClientConfig{
		BaseURL: a.cfg.Broker.BaseURL,
		Key:     a.cfg.Broker.ApiKey,
		Secret:  a.cfg.Broker.ApiSecret,
		Account: a.cfg.Broker.Account,
		Timeout: a.cfg.Broker.Timeout.Duration,
	}
	client := brokerage.NewClient(clientCfg, deps.RateLimiter)
	data := brokerage.NewCachedData(client, deps.QuoteCache, 0, a.logger)
	broker := paper.NewBroker(data, a.cfg.Broker.InitialCash, a.logger)

	unlock, err := deps.LockManager.Acquire(ctx, "engine:paper:"+a.cfg.Broker.Account, engineLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("paper mode: another instance is already running account %s: %w", a.cfg.Broker.Account, err)
		}
		return fmt.Errorf("paper mode: engine lock: %w", err)
	}
	defer unlock()

	rt, err := a.buildRuntime(deps, broker, broker, data)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	return a.runEngine(ctx, deps, rt)
}

// MonitorMode runs the engine read-only: every periodic task observes and
// records, but no orders are placed and no order stream is consumed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	clientCfg := brokerage.ClientConfig{
		BaseURL: a.cfg.Broker.BaseURL,
		Key:     a.cfg.Broker.ApiKey,
		Secret:  a.cfg.Broker.ApiSecret,
		Account: a.cfg.Broker.Account,
		Timeout: a.cfg.Broker.Timeout.Duration,
	}
	client := brokerage.NewClient(clientCfg, deps.RateLimiter)
	data := brokerage.NewCachedData(client, deps.QuoteCache, 0, a.logger)

	rt, err := a.buildRuntime(deps, client, nil, data)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return a.runEngine(ctx, deps, rt)
}

// buildRuntime assembles the full component graph for one engine instance.
// stream may be nil for modes that never receive asynchronous fills.
func (a *App) buildRuntime(
	deps *Dependencies,
	broker domain.Brokerage,
	stream domain.OrderStream,
	data domain.MarketData,
) (*runtime, error) {
	calendar, err := session.NewCalendar(a.cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("session calendar: %w", err)
	}

	manager := orders.NewManager(
		deps.OrderStore,
		deps.CoreStore,
		deps.PerformanceStore,
		broker,
		calendar,
		deps.Bus,
		deps.AuditStore,
		orders.Fractions{
			ProfitTarget:  a.cfg.Trading.ProfitTargetFraction,
			GapSellOffset: a.cfg.Trading.GapSellOffset,
			GapExitOffset: a.cfg.Trading.GapExitOffset,
		},
		a.logger,
	)

	watcher := session.NewWatcher(
		calendar,
		manager,
		deps.Bus,
		a.cfg.Sessions,
		a.cfg.Intervals.SessionPoll.Duration,
		a.logger,
	)

	guards := risk.NewGuardrails(risk.Limits{
		MaxPositionBuffer: a.cfg.Trading.MaxPositionBuffer,
		MinCashReserve:    a.cfg.Trading.MinCashReserve,
		MaxTotalInvested:  a.cfg.Trading.MaxTotalInvested,
		CoreExposure:      a.cfg.Trading.CoreExposureFraction,
		MaxExposure:       a.cfg.Trading.MaxExposureFraction,
	})

	machine := risk.NewMachine(
		deps.RiskStateStore,
		deps.MilestoneStore,
		deps.Bus,
		risk.Thresholds{
			Overbought: a.cfg.Trading.RSIOverbought,
			Oversold:   a.cfg.Trading.RSIOversold,
		},
		a.logger,
	)

	indicators := indicator.NewProvider(data, deps.BarCache, a.cfg.Trading.RSIPeriod, a.logger)

	accountant := core.NewAccountant(
		deps.CoreStore,
		deps.RiskStateStore,
		data,
		manager,
		guards,
		deps.AuditStore,
		deps.Bus,
		core.Sizing{
			OrderSizeFraction: a.cfg.Trading.OrderSizeFraction,
			RetainFraction:    a.cfg.Trading.RetainFraction,
			UnwindFraction:    a.cfg.Trading.CoreUnwindFraction,
			Weights:           a.cfg.Trading.CoreWeights,
		},
		a.logger,
	)

	tracker := perf.NewTracker(deps.PerformanceStore, deps.CoreStore, data, a.logger)

	eng := engine.New(
		engine.Deps{
			Risk:       machine,
			Guards:     guards,
			Indicators: indicators,
			Accountant: accountant,
			Orders:     manager,
			Tracker:    tracker,
			Calendar:   calendar,
			Watcher:    watcher,
			Broker:     broker,
			Data:       data,
			Signals:    deps.SignalStore,
			Lots:       deps.CoreStore,
			Bus:        deps.Bus,
			Audit:      deps.AuditStore,
			Logger:     a.logger,
		},
		engine.Config{
			Mode:              a.cfg.Mode,
			TradingSymbols:    a.cfg.Trading.Symbols,
			CoreWeights:       a.cfg.Trading.CoreWeights,
			OrderSizeFraction: a.cfg.Trading.OrderSizeFraction,
			ProfitTarget:      a.cfg.Trading.ProfitTargetFraction,
			RSIOversold:       a.cfg.Trading.RSIOversold,
			Intervals:         a.cfg.Intervals,
		},
	)

	rt := &runtime{
		engine:   eng,
		manager:  manager,
		tracker:  tracker,
		calendar: calendar,
		stream:   stream,
	}
	if a.cfg.Metrics.Enabled {
		rt.recorder = metrics.New()
	}
	return rt, nil
}

// runEngine starts the control loop plus its supporting goroutines (order
// stream consumer, event dispatcher, metrics poller, retention archiver, and
// the HTTP server) and blocks until the context ends or one of them fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, rt *runtime) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := rt.engine.Start(); err != nil {
		return fmt.Errorf("app: engine start: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := rt.engine.Stop(stopCtx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			a.logger.Error("engine stop failed", slog.Any("error", err))
		}
		return ctx.Err()
	})

	// Order stream consumer: feeds asynchronous fills into the lifecycle
	// manager.
	if rt.stream != nil {
		g.Go(func() error {
			updates, err := rt.stream.OrderUpdates(ctx)
			if err != nil {
				return fmt.Errorf("app: order stream connect: %w", err)
			}
			if err := rt.manager.ConsumeUpdates(ctx, updates); err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: order stream consume: %w", err)
			}
			return nil
		})
	}

	// Event dispatcher: bus events to notifications and metrics.
	disp := newDispatcher(deps.Bus, deps.Notifier, rt.recorder, a.logger)
	g.Go(func() error {
		disp.Run(ctx)
		return nil
	})

	// Metrics poller: gauges that are derived from store state rather than
	// discrete events.
	if rt.recorder != nil {
		g.Go(func() error {
			a.pollMetrics(ctx, deps, rt)
			return nil
		})
	}

	// Retention archiver.
	if deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiver(ctx, deps)
			return nil
		})
	}

	// HTTP server.
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pollMetrics refreshes portfolio and cycle gauges on the performance
// interval.
func (a *App) pollMetrics(ctx context.Context, deps *Dependencies, rt *runtime) {
	interval := a.cfg.Intervals.Performance.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if snap, err := rt.tracker.LatestSnapshot(ctx); err == nil {
			rt.recorder.Portfolio(snap.Equity, snap.Cash)
		}
		for symbol := range a.cfg.Trading.CoreWeights {
			if prog, err := deps.CoreStore.LatestProgress(ctx, symbol); err == nil {
				rt.recorder.CyclesRemaining(symbol, prog.CyclesRemaining)
			}
		}
	}
}

// runArchiver moves records older than the retention window to object
// storage once a day.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
		jobs := []struct {
			name string
			run  func(context.Context, time.Time) (int64, error)
		}{
			{"orders", deps.Archiver.ArchiveOrders},
			{"status_events", deps.Archiver.ArchiveStatusEvents},
			{"risk_history", deps.Archiver.ArchiveRiskHistory},
		}
		for _, job := range jobs {
			count, err := job.run(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive job failed",
					slog.String("job", job.name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archive job completed",
					slog.String("job", job.name),
					slog.Int64("records", count),
				)
			}
		}
	}
}

// startHTTPServer registers the API surface and the websocket hub on the
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Engine:   handler.NewEngineHandler(rt.engine, a.logger),
		Risk:     handler.NewRiskHandler(deps.RiskStateStore, deps.MilestoneStore, a.logger),
		Core:     handler.NewCoreHandler(deps.CoreStore, a.logger),
		Orders:   handler.NewOrderHandler(rt.manager, deps.OrderStore, a.logger),
		Sessions: handler.NewSessionHandler(rt.calendar),
		Perf:     handler.NewPerfHandler(rt.tracker, a.logger),
		Events:   handler.NewEventsHandler(deps.Bus, a.logger),
	}

	var metricsHandler http.Handler
	if rt.recorder != nil {
		metricsHandler = metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, metricsHandler, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
