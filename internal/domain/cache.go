package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to the latest quotes.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// BarCache stores recently fetched indicator inputs so regime and signal
// evaluations within the same interval do not refetch history.
type BarCache interface {
	SetBars(ctx context.Context, symbol string, interval BarInterval, bars []Bar, ttl time.Duration) error
	GetBars(ctx context.Context, symbol string, interval BarInterval) ([]Bar, error)
	SetHighs(ctx context.Context, symbol string, yearHigh, allTimeHigh float64, ttl time.Duration) error
	GetHighs(ctx context.Context, symbol string) (yearHigh, allTimeHigh float64, err error)
	Invalidate(ctx context.Context, symbol string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventLogStream is the durable stream every dispatched engine event is
// appended to, so event history survives the pub/sub fanout.
const EventLogStream = "events:log"

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams for engine events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
