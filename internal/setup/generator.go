// Package setup filters and scores candidate breakout setups.
package setup

import (
	"math"
	"time"

	"breakout-radar/internal/domain"
)

// Weights are the setup-score components. Each term is clamped to [0,1]
// before weighting; the weights themselves should sum to roughly 1.0.
type Weights struct {
	Trend     float64
	ADX       float64
	Volume    float64
	Proximity float64
	Pattern   float64
}

type Config struct {
	ADXFloor    float64
	VolumeFloor float64
	RSIBandLow  float64
	RSIBandHigh float64

	// MaxDistancePct is how close (in percent of price) the last close must
	// be to the prior high/low for that direction to be considered.
	MaxDistancePct float64
	MinScore       float64
	TTL            time.Duration

	RequireHTFAlignment bool
	Weights             Weights
}

func DefaultConfig() Config {
	return Config{
		ADXFloor:            18,
		VolumeFloor:         0.9,
		RSIBandLow:          28,
		RSIBandHigh:         72,
		MaxDistancePct:      0.6,
		MinScore:            0.55,
		TTL:                 45 * time.Minute,
		RequireHTFAlignment: true,
		Weights: Weights{
			Trend:     0.25,
			ADX:       0.20,
			Volume:    0.20,
			Proximity: 0.20,
			Pattern:   0.15,
		},
	}
}

type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	if cfg.MinScore <= 0 {
		cfg = DefaultConfig()
	}
	return &Generator{cfg: cfg}
}

// Generate returns zero, one, or two setups (one per direction) for a symbol.
// htfFeatures carries the higher-timeframe EMA alignment filter and may be
// nil, in which case the filter is skipped.
func (g *Generator) Generate(
	symbol string,
	features domain.FeatureSet,
	htfFeatures domain.FeatureSet,
	marketRegime domain.Regime,
	now time.Time,
) []domain.Setup {
	if marketRegime == domain.RegimeChop || marketRegime == domain.RegimeHighVol {
		return nil
	}

	required := []string{
		domain.FeatureADX,
		domain.FeatureVolRatio,
		domain.FeatureRSI,
		domain.FeaturePrice,
		domain.FeaturePrevHigh,
		domain.FeaturePrevLow,
		domain.FeatureDistToHighPct,
		domain.FeatureDistToLowPct,
		domain.FeatureEMAFast,
		domain.FeatureEMASlow,
	}
	if !features.Has(required...) {
		return nil
	}

	adx := features[domain.FeatureADX]
	volRatio := features[domain.FeatureVolRatio]
	rsi := features[domain.FeatureRSI]
	if adx < g.cfg.ADXFloor || volRatio < g.cfg.VolumeFloor {
		return nil
	}
	// RSI at the band edges signals an already-extended move, unsuitable for
	// a fresh breakout setup.
	if rsi < g.cfg.RSIBandLow || rsi > g.cfg.RSIBandHigh {
		return nil
	}

	pattern := g.patternScore(features)

	var setups []domain.Setup
	for _, direction := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		if s, ok := g.evaluateDirection(symbol, direction, features, htfFeatures, adx, volRatio, pattern, now); ok {
			setups = append(setups, s)
		}
	}
	return setups
}

func (g *Generator) evaluateDirection(
	symbol string,
	direction domain.Direction,
	features, htfFeatures domain.FeatureSet,
	adx, volRatio, pattern float64,
	now time.Time,
) (domain.Setup, bool) {
	var level, dist float64
	if direction == domain.DirectionLong {
		level = features[domain.FeaturePrevHigh]
		dist = math.Abs(features[domain.FeatureDistToHighPct])
	} else {
		level = features[domain.FeaturePrevLow]
		dist = math.Abs(features[domain.FeatureDistToLowPct])
	}
	if dist > g.cfg.MaxDistancePct {
		return domain.Setup{}, false
	}

	if g.cfg.RequireHTFAlignment && !htfAligned(htfFeatures, direction) {
		return domain.Setup{}, false
	}

	trendPresence := 0.0
	emaFast := features[domain.FeatureEMAFast]
	emaSlow := features[domain.FeatureEMASlow]
	if (direction == domain.DirectionLong && emaFast > emaSlow) ||
		(direction == domain.DirectionShort && emaFast < emaSlow) {
		trendPresence = 1
	}

	w := g.cfg.Weights
	score := w.Trend*trendPresence +
		w.ADX*clamp01(adx/40) +
		w.Volume*clamp01(volRatio/2) +
		w.Proximity*clamp01(1-dist/g.cfg.MaxDistancePct) +
		w.Pattern*pattern

	if score < g.cfg.MinScore {
		return domain.Setup{}, false
	}

	return domain.Setup{
		Symbol:    symbol,
		Direction: direction,
		Level:     level,
		Score:     score,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.TTL),
	}, true
}

// patternScore maps the compression ratio to [0,1]; a tighter consolidation
// relative to ATR scores higher.
func (g *Generator) patternScore(features domain.FeatureSet) float64 {
	compression, ok := features.Get(domain.FeatureCompression)
	if !ok {
		return 0
	}
	return clamp01(1 - compression/3)
}

// htfAligned checks higher-timeframe EMA(50)/EMA(200) agreement with the
// candidate direction. Missing higher-timeframe data is permissive.
func htfAligned(htf domain.FeatureSet, direction domain.Direction) bool {
	if htf == nil {
		return true
	}
	fast, okFast := htf.Get(domain.FeatureEMAFast)
	slow, okSlow := htf.Get(domain.FeatureEMASlow)
	if !okFast || !okSlow {
		return true
	}
	if direction == domain.DirectionLong {
		return fast > slow
	}
	return fast < slow
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
