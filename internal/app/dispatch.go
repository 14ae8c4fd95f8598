package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/metrics"
	"github.com/levtrade/corebot/internal/notify"
)

// dispatchChannels are the bus channels the dispatcher consumes. Every
// component publishes to one of these.
var dispatchChannels = []string{
	"events:engine",
	"events:risk",
	"events:core",
	"events:signal",
	"events:guardrail",
	"events:order",
	"events:session",
}

// dispatcher fans engine events out to the notifier and the metrics
// recorder. It is the only consumer that interprets event payloads; the ws
// hub forwards them opaquely.
type dispatcher struct {
	bus      domain.EventBus
	notifier *notify.Notifier
	recorder *metrics.Recorder // may be nil
	logger   *slog.Logger
}

func newDispatcher(bus domain.EventBus, notifier *notify.Notifier, recorder *metrics.Recorder, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		bus:      bus,
		notifier: notifier,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Run consumes every dispatch channel until ctx is cancelled.
func (d *dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, channel := range dispatchChannels {
		ch, err := d.bus.Subscribe(ctx, channel)
		if err != nil {
			d.logger.ErrorContext(ctx, "event subscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.consume(ctx, channel, ch)
		}()
	}
	wg.Wait()
}

func (d *dispatcher) consume(ctx context.Context, channel string, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			var evt map[string]string
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			d.record(ctx, channel, data)
			d.handle(ctx, evt)
		}
	}
}

// record appends the event to the durable history stream so operators can
// query what the engine emitted after the pub/sub fanout is gone.
func (d *dispatcher) record(ctx context.Context, channel string, data []byte) {
	entry, err := json.Marshal(struct {
		Channel string          `json:"channel"`
		Event   json.RawMessage `json:"event"`
	}{Channel: channel, Event: data})
	if err != nil {
		return
	}
	if err := d.bus.StreamAppend(ctx, domain.EventLogStream, entry); err != nil {
		d.logger.WarnContext(ctx, "event history append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// handle routes one decoded event. Unknown event names are ignored so new
// publishers do not break the dispatcher.
func (d *dispatcher) handle(ctx context.Context, evt map[string]string) {
	name := evt["event"]
	symbol := evt["symbol"]

	switch name {
	case notify.EventRiskTransition:
		d.notify(ctx, name, "Risk regime change",
			fmt.Sprintf("%s: %s to %s (%s)", symbol, evt["from"], evt["to"], evt["reason"]))
		if d.recorder != nil {
			d.recorder.RiskRegime(symbol, domain.RiskRegime(evt["to"]))
		}

	case notify.EventCoreUnwind:
		d.notify(ctx, name, "Core unwind",
			fmt.Sprintf("%s: unwind order %s submitted", symbol, evt["order"]))

	case notify.EventGuardrailDenied:
		d.notify(ctx, name, "Guardrail denied order",
			fmt.Sprintf("%s: %s", symbol, evt["reason"]))
		if d.recorder != nil {
			d.recorder.GuardrailDenied(symbol, evt["reason"])
		}

	case notify.EventOrderRejected:
		d.notify(ctx, name, "Order rejected",
			fmt.Sprintf("%s: order %s rejected by the brokerage", symbol, evt["order"]))

	case notify.EventGapDetected:
		d.notify(ctx, name, "Price gap",
			fmt.Sprintf("%s: gap %s, action %s", symbol, evt["direction"], evt["action"]))

	case notify.EventEngineStarted:
		d.notify(ctx, name, "Engine started",
			fmt.Sprintf("mode %s", evt["mode"]))

	case notify.EventEngineStopped:
		d.notify(ctx, name, "Engine stopped",
			fmt.Sprintf("mode %s", evt["mode"]))

	case "order_submitted":
		if d.recorder != nil {
			d.recorder.OrderSubmitted(symbol,
				domain.OrderAction(evt["action"]),
				domain.OrderTag(evt["tag"]),
			)
		}

	case "order_status":
		if d.recorder != nil {
			d.recorder.OrderTerminal(symbol,
				domain.OrderTag(evt["tag"]),
				domain.OrderStatus(evt["status"]),
			)
		}
	}
}

func (d *dispatcher) notify(ctx context.Context, event, title, message string) {
	if err := d.notifier.Notify(ctx, event, title, message); err != nil {
		d.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
