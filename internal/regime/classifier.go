// Package regime maps a feature set to a coarse market-regime label.
package regime

import "breakout-radar/internal/domain"

// Thresholds are the tunable classification boundaries. Volatility extremes
// pre-empt every other label, then chop, then directional trend, else range.
type Thresholds struct {
	HighVolATRPct float64
	LowVolATRPct  float64
	ChopADX       float64
	TrendADX      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolATRPct: 4.0,
		LowVolATRPct:  0.5,
		ChopADX:       15.0,
		TrendADX:      22.0,
	}
}

type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(thresholds Thresholds) *Classifier {
	if thresholds.TrendADX <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Classifier{thresholds: thresholds}
}

// Classify returns the regime for a feature set. It reports false when
// atr_pct or adx is undefined; callers must abstain in that case.
func (c *Classifier) Classify(features domain.FeatureSet) (domain.Regime, bool) {
	atrPct, ok := features.Get(domain.FeatureATRPct)
	if !ok {
		return "", false
	}
	adx, ok := features.Get(domain.FeatureADX)
	if !ok {
		return "", false
	}

	switch {
	case atrPct >= c.thresholds.HighVolATRPct:
		return domain.RegimeHighVol, true
	case atrPct <= c.thresholds.LowVolATRPct:
		return domain.RegimeLowVol, true
	case adx <= c.thresholds.ChopADX:
		return domain.RegimeChop, true
	}

	if adx >= c.thresholds.TrendADX {
		emaFast, okFast := features.Get(domain.FeatureEMAFast)
		emaSlow, okSlow := features.Get(domain.FeatureEMASlow)
		if okFast && okSlow {
			if emaFast > emaSlow {
				return domain.RegimeTrendUp, true
			}
			if emaFast < emaSlow {
				return domain.RegimeTrendDown, true
			}
		}
	}

	return domain.RegimeRange, true
}
