package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"breakout-radar/internal/domain"

	"github.com/redis/go-redis/v9"
)

// CandleCache is a TTL cache for fetched candle series, keyed by
// symbol+interval. It bounds provider request rate without introducing
// staleness beyond the polling cadence: the base timeframe gets a short TTL,
// higher timeframes a longer one.
type CandleCache struct {
	client       *redis.Client
	baseInterval string
	baseTTL      time.Duration
	htfTTL       time.Duration
}

func NewCandleCache(client *redis.Client, baseInterval string, baseTTL, htfTTL time.Duration) *CandleCache {
	if baseTTL <= 0 {
		baseTTL = 45 * time.Second
	}
	if htfTTL <= 0 {
		htfTTL = 5 * time.Minute
	}
	return &CandleCache{
		client:       client,
		baseInterval: baseInterval,
		baseTTL:      baseTTL,
		htfTTL:       htfTTL,
	}
}

func (c *CandleCache) Get(ctx context.Context, symbol, interval string) (*domain.CandleSeries, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, candleKey(symbol, interval)).Bytes()
	if err != nil {
		return nil, false
	}
	var series domain.CandleSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, false
	}
	return &series, true
}

func (c *CandleCache) Put(ctx context.Context, series *domain.CandleSeries) error {
	if c == nil || c.client == nil || series == nil {
		return nil
	}
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("marshal candle series: %w", err)
	}
	ttl := c.htfTTL
	if series.Interval == c.baseInterval {
		ttl = c.baseTTL
	}
	return c.client.Set(ctx, candleKey(series.Symbol, series.Interval), raw, ttl).Err()
}

func candleKey(symbol, interval string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, interval)
}
