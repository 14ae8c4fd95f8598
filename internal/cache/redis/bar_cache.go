package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/levtrade/corebot/internal/domain"
)

// BarCache implements domain.BarCache using Redis. Bar history is stored as
// a JSON blob per symbol and interval; high-water marks live in a hash.
//
// Key schema:
//
//	bars:{symbol}:{interval} - string value containing JSON bar slice
//	highs:{symbol}           - hash with fields "year" and "ath"
type BarCache struct {
	rdb *redis.Client
}

// NewBarCache creates a BarCache backed by the given Client.
func NewBarCache(c *Client) *BarCache {
	return &BarCache{rdb: c.rdb}
}

func barsKey(symbol string, interval domain.BarInterval) string {
	return "bars:" + symbol + ":" + string(interval)
}

func highsKey(symbol string) string { return "highs:" + symbol }

// SetBars stores a symbol's bar history for one interval with the given TTL.
func (bc *BarCache) SetBars(ctx context.Context, symbol string, interval domain.BarInterval, bars []domain.Bar, ttl time.Duration) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("redis: marshal bars %s/%s: %w", symbol, interval, err)
	}
	if err := bc.rdb.Set(ctx, barsKey(symbol, interval), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set bars %s/%s: %w", symbol, interval, err)
	}
	return nil
}

// GetBars retrieves a symbol's cached bar history for one interval.
// It returns domain.ErrNotFound when the key does not exist.
func (bc *BarCache) GetBars(ctx context.Context, symbol string, interval domain.BarInterval) ([]domain.Bar, error) {
	data, err := bc.rdb.Get(ctx, barsKey(symbol, interval)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get bars %s/%s: %w", symbol, interval, err)
	}

	var bars []domain.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("redis: unmarshal bars %s/%s: %w", symbol, interval, err)
	}
	return bars, nil
}

// SetHighs stores the 52-week and all-time high marks with the given TTL.
func (bc *BarCache) SetHighs(ctx context.Context, symbol string, yearHigh, allTimeHigh float64, ttl time.Duration) error {
	key := highsKey(symbol)
	fields := map[string]interface{}{
		"year": strconv.FormatFloat(yearHigh, 'f', -1, 64),
		"ath":  strconv.FormatFloat(allTimeHigh, 'f', -1, 64),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set highs %s: %w", symbol, err)
	}
	return nil
}

// GetHighs retrieves the cached high-water marks for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (bc *BarCache) GetHighs(ctx context.Context, symbol string) (yearHigh, allTimeHigh float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, highsKey(symbol)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get highs %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	yearHigh, err = strconv.ParseFloat(vals["year"], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse year high %s: %w", symbol, err)
	}
	allTimeHigh, err = strconv.ParseFloat(vals["ath"], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse all-time high %s: %w", symbol, err)
	}
	return yearHigh, allTimeHigh, nil
}

// Invalidate drops all cached bars and highs for a symbol.
func (bc *BarCache) Invalidate(ctx context.Context, symbol string) error {
	keys := []string{
		barsKey(symbol, domain.Bar15Min),
		barsKey(symbol, domain.BarDaily),
		barsKey(symbol, domain.BarWeekly),
		highsKey(symbol),
	}
	if err := bc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BarCache = (*BarCache)(nil)
