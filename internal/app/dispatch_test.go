package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/notify"
)

type streamEntry struct {
	stream  string
	payload []byte
}

type dispatchBus struct {
	chans   map[string]chan []byte
	appends chan streamEntry
}

func newDispatchBus() *dispatchBus {
	return &dispatchBus{
		chans:   map[string]chan []byte{},
		appends: make(chan streamEntry, 16),
	}
}

func (b *dispatchBus) Publish(context.Context, string, []byte) error { return nil }

func (b *dispatchBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.chans[channel] = ch
	return ch, nil
}

func (b *dispatchBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.appends <- streamEntry{stream: stream, payload: payload}
	return nil
}

func (b *dispatchBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestDispatcherRecordsEventHistory(t *testing.T) {
	bus := newDispatchBus()
	notifier := notify.NewNotifier(nil, nil, slog.Default())
	d := newDispatcher(bus, notifier, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return bus.chans["events:order"] != nil
	}, time.Second, 10*time.Millisecond)

	evt := []byte(`{"event":"order_submitted","symbol":"SOXL"}`)
	bus.chans["events:order"] <- evt

	select {
	case entry := <-bus.appends:
		assert.Equal(t, domain.EventLogStream, entry.stream)
		var rec struct {
			Channel string          `json:"channel"`
			Event   json.RawMessage `json:"event"`
		}
		require.NoError(t, json.Unmarshal(entry.payload, &rec))
		assert.Equal(t, "events:order", rec.Channel)
		assert.JSONEq(t, string(evt), string(rec.Event))
	case <-time.After(time.Second):
		t.Fatal("no stream append observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
