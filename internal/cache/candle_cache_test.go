package cache

import (
	"context"
	"testing"
	"time"

	"breakout-radar/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CandleCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCandleCache(client, "15m", 45*time.Second, 5*time.Minute), mr
}

func sampleSeries(symbol, interval string) *domain.CandleSeries {
	return &domain.CandleSeries{
		Symbol:   symbol,
		Interval: interval,
		Candles: []domain.Candle{
			{
				Symbol:   symbol,
				Interval: interval,
				OpenTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
				Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 1200,
			},
			{
				Symbol:   symbol,
				Interval: interval,
				OpenTime: time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC),
				Open:     100.5, High: 102, Low: 100, Close: 101.8, Volume: 1500,
			},
		},
	}
}

func TestCandleCacheRoundTrip(t *testing.T) {
	cc, _ := newTestCache(t)
	ctx := context.Background()

	series := sampleSeries("BTCUSDT", "15m")
	if err := cc.Put(ctx, series); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := cc.Get(ctx, "BTCUSDT", "15m")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Len() != 2 {
		t.Fatalf("expected 2 candles, got %d", got.Len())
	}
	if got.LastClose() != 101.8 {
		t.Errorf("expected last close 101.8, got %v", got.LastClose())
	}
	if !got.Candles[0].OpenTime.Equal(series.Candles[0].OpenTime) {
		t.Errorf("open time mismatch: %v", got.Candles[0].OpenTime)
	}
}

func TestCandleCacheMiss(t *testing.T) {
	cc, _ := newTestCache(t)

	if _, ok := cc.Get(context.Background(), "ETHUSDT", "15m"); ok {
		t.Fatal("expected miss for unknown symbol")
	}
}

func TestCandleCacheBaseTTLExpiry(t *testing.T) {
	cc, mr := newTestCache(t)
	ctx := context.Background()

	if err := cc.Put(ctx, sampleSeries("BTCUSDT", "15m")); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(46 * time.Second)

	if _, ok := cc.Get(ctx, "BTCUSDT", "15m"); ok {
		t.Fatal("expected base interval entry to expire")
	}
}

func TestCandleCacheHTFOutlivesBaseTTL(t *testing.T) {
	cc, mr := newTestCache(t)
	ctx := context.Background()

	if err := cc.Put(ctx, sampleSeries("BTCUSDT", "1h")); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(46 * time.Second)

	if _, ok := cc.Get(ctx, "BTCUSDT", "1h"); !ok {
		t.Fatal("expected higher timeframe entry to survive base TTL")
	}

	mr.FastForward(5 * time.Minute)
	if _, ok := cc.Get(ctx, "BTCUSDT", "1h"); ok {
		t.Fatal("expected higher timeframe entry to expire eventually")
	}
}

func TestCandleCacheCorruptPayload(t *testing.T) {
	cc, mr := newTestCache(t)

	mr.Set("candles:BTCUSDT:15m", "not json")
	if _, ok := cc.Get(context.Background(), "BTCUSDT", "15m"); ok {
		t.Fatal("expected corrupt payload to be treated as a miss")
	}
}
