package setup

import (
	"math/rand"
	"testing"
	"time"

	"breakout-radar/internal/domain"
)

func breakoutFeatures() domain.FeatureSet {
	return domain.FeatureSet{
		domain.FeaturePrice:         100,
		domain.FeatureADX:           28,
		domain.FeatureVolRatio:      1.6,
		domain.FeatureRSI:           60,
		domain.FeatureEMAFast:       99,
		domain.FeatureEMASlow:       95,
		domain.FeaturePrevHigh:      100.3,
		domain.FeaturePrevLow:       94,
		domain.FeatureDistToHighPct: 0.3,
		domain.FeatureDistToLowPct:  6.0,
		domain.FeatureCompression:   1.0,
	}
}

func TestGenerateLongSetupNearPriorHigh(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	now := time.Unix(1_700_000_000, 0).UTC()
	setups := g.Generate("BTCUSDT", breakoutFeatures(), nil, domain.RegimeTrendUp, now)

	if len(setups) != 1 {
		t.Fatalf("expected exactly one setup, got %d", len(setups))
	}
	s := setups[0]
	if s.Direction != domain.DirectionLong {
		t.Fatalf("expected LONG, got %s", s.Direction)
	}
	if s.Level != 100.3 {
		t.Fatalf("expected level at prior high, got %v", s.Level)
	}
	if s.Score < DefaultConfig().MinScore || s.Score > 1 {
		t.Fatalf("score out of range: %v", s.Score)
	}
	if !s.ExpiresAt.Equal(now.Add(DefaultConfig().TTL)) {
		t.Fatalf("unexpected expiry: %v", s.ExpiresAt)
	}
}

func TestGenerateNeverEmitsInChopOrHighVol(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	now := time.Unix(0, 0)

	for i := 0; i < 1000; i++ {
		features := domain.FeatureSet{
			domain.FeaturePrice:         50 + rng.Float64()*100,
			domain.FeatureADX:           rng.Float64() * 60,
			domain.FeatureVolRatio:      rng.Float64() * 3,
			domain.FeatureRSI:           rng.Float64() * 100,
			domain.FeatureEMAFast:       50 + rng.Float64()*100,
			domain.FeatureEMASlow:       50 + rng.Float64()*100,
			domain.FeaturePrevHigh:      50 + rng.Float64()*100,
			domain.FeaturePrevLow:       50 + rng.Float64()*100,
			domain.FeatureDistToHighPct: rng.Float64(),
			domain.FeatureDistToLowPct:  rng.Float64(),
			domain.FeatureCompression:   rng.Float64() * 4,
		}
		for _, r := range []domain.Regime{domain.RegimeChop, domain.RegimeHighVol} {
			if got := g.Generate("BTCUSDT", features, nil, r, now); len(got) != 0 {
				t.Fatalf("regime %s must suppress setups, got %d", r, len(got))
			}
		}
	}
}

func TestGenerateRejectsExtendedRSI(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	now := time.Unix(0, 0)

	for _, rsi := range []float64{10, 27.9, 72.1, 95} {
		features := breakoutFeatures()
		features[domain.FeatureRSI] = rsi
		if got := g.Generate("BTCUSDT", features, nil, domain.RegimeTrendUp, now); len(got) != 0 {
			t.Fatalf("rsi %v outside band must reject, got %d setups", rsi, len(got))
		}
	}
}

func TestGenerateRejectsWeakADXOrVolume(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	now := time.Unix(0, 0)

	features := breakoutFeatures()
	features[domain.FeatureADX] = 10
	if got := g.Generate("BTCUSDT", features, nil, domain.RegimeRange, now); len(got) != 0 {
		t.Fatal("adx below floor must reject")
	}

	features = breakoutFeatures()
	features[domain.FeatureVolRatio] = 0.3
	if got := g.Generate("BTCUSDT", features, nil, domain.RegimeRange, now); len(got) != 0 {
		t.Fatal("volume ratio below floor must reject")
	}
}

func TestGenerateHTFAlignmentFilter(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	now := time.Unix(0, 0)

	misaligned := domain.FeatureSet{
		domain.FeatureEMAFast: 90,
		domain.FeatureEMASlow: 100,
	}
	if got := g.Generate("BTCUSDT", breakoutFeatures(), misaligned, domain.RegimeTrendUp, now); len(got) != 0 {
		t.Fatal("higher-timeframe misalignment must veto the long setup")
	}

	aligned := domain.FeatureSet{
		domain.FeatureEMAFast: 110,
		domain.FeatureEMASlow: 100,
	}
	if got := g.Generate("BTCUSDT", breakoutFeatures(), aligned, domain.RegimeTrendUp, now); len(got) != 1 {
		t.Fatal("aligned higher timeframe must pass the long setup")
	}

	// Missing higher-timeframe data is permissive.
	partial := domain.FeatureSet{domain.FeatureEMAFast: 90}
	if got := g.Generate("BTCUSDT", breakoutFeatures(), partial, domain.RegimeTrendUp, now); len(got) != 1 {
		t.Fatal("partial higher-timeframe features must skip the filter")
	}
}

func TestGenerateMissingFeatureBlocks(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	features := breakoutFeatures()
	delete(features, domain.FeatureADX)
	if got := g.Generate("BTCUSDT", features, nil, domain.RegimeTrendUp, time.Unix(0, 0)); len(got) != 0 {
		t.Fatal("missing adx must block setup generation")
	}
}

func TestGenerateBothDirectionsCanQualify(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireHTFAlignment = false
	cfg.MinScore = 0.3
	g := NewGenerator(cfg)

	features := breakoutFeatures()
	// Price compressed between two nearby levels.
	features[domain.FeaturePrevLow] = 99.7
	features[domain.FeatureDistToLowPct] = 0.3

	setups := g.Generate("SOLUSDT", features, nil, domain.RegimeRange, time.Unix(0, 0))
	if len(setups) != 2 {
		t.Fatalf("expected setups for both directions, got %d", len(setups))
	}
	if setups[0].Direction == setups[1].Direction {
		t.Fatal("expected distinct directions")
	}
}
