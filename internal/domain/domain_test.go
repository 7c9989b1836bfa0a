package domain

import (
	"testing"
	"time"
)

func TestCandleSeriesAccessorsCopy(t *testing.T) {
	series := &CandleSeries{
		Symbol:   "BTCUSDT",
		Interval: "15m",
		Candles: []Candle{
			{OpenTime: time.Unix(0, 0), High: 2, Low: 1, Close: 1.5, Volume: 10},
			{OpenTime: time.Unix(900, 0), High: 3, Low: 2, Close: 2.5, Volume: 20},
		},
	}

	closes := series.Closes()
	closes[0] = 999

	if series.Candles[0].Close != 1.5 {
		t.Fatalf("accessor mutated underlying candle: %v", series.Candles[0].Close)
	}
	if got := series.LastClose(); got != 2.5 {
		t.Fatalf("expected last close 2.5, got %v", got)
	}
	if got := series.Len(); got != 2 {
		t.Fatalf("expected len 2, got %d", got)
	}
}

func TestNilSeriesIsEmpty(t *testing.T) {
	var series *CandleSeries
	if series.Len() != 0 || series.Closes() != nil || series.LastClose() != 0 {
		t.Fatal("nil series should behave as empty")
	}
}

func TestFeatureSetHas(t *testing.T) {
	f := FeatureSet{FeatureRSI: 55, FeatureADX: 24}
	if !f.Has(FeatureRSI, FeatureADX) {
		t.Fatal("expected keys present")
	}
	if f.Has(FeatureRSI, FeatureATR) {
		t.Fatal("missing key must block")
	}
}

func TestSignalKey(t *testing.T) {
	if got := SignalKey("BTCUSDT", DirectionLong); got != "BTCUSDT_LONG" {
		t.Fatalf("unexpected key: %s", got)
	}
	s := Setup{Symbol: "SOLUSDT", Direction: DirectionShort}
	if got := s.Key(); got != "SOLUSDT_SHORT" {
		t.Fatalf("unexpected setup key: %s", got)
	}
}

func TestSetupExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	s := Setup{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Fatal("setup should not be expired before its TTL")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("setup should expire after its TTL")
	}
}

func TestDirectionIsValid(t *testing.T) {
	if !DirectionLong.IsValid() || !DirectionShort.IsValid() {
		t.Fatal("expected valid directions")
	}
	if Direction("UP").IsValid() {
		t.Fatal("unexpected valid direction")
	}
}
