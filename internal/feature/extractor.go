// Package feature derives the flat per-symbol feature set the regime
// classifier and setup generator consume.
package feature

import (
	"math"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/indicator"
)

const (
	// MinCloses is the hard minimum history for trend/momentum features.
	// Shorter series yield a partial result and callers must abstain.
	MinCloses = 200

	emaFastPeriod    = 50
	emaSlowPeriod    = 200
	rsiPeriod        = 14
	atrPeriod        = 14
	adxPeriod        = 14
	slopeBars        = 5
	rocBars          = 6
	bollingerPeriod  = 20
	bollingerStdDevs = 2.0
	volumeWindow     = 20
	levelWindow      = 20
	structureBars    = 5
	compressionBars  = 8
)

// Extract computes a FeatureSet from one candle series. Features whose
// prerequisite window is unavailable are omitted from the map; the function
// never fails.
func Extract(series *domain.CandleSeries) domain.FeatureSet {
	features := domain.FeatureSet{}
	n := series.Len()
	if n == 0 {
		return features
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()
	price := closes[n-1]
	features[domain.FeaturePrice] = price

	if n >= MinCloses {
		emaFast := indicator.EMA(closes, emaFastPeriod)
		emaSlow := indicator.EMA(closes, emaSlowPeriod)
		features[domain.FeatureEMAFast] = emaFast[n-1]
		features[domain.FeatureEMASlow] = emaSlow[n-1]
		features[domain.FeatureEMAFastSlope] = (emaFast[n-1] - emaFast[n-1-slopeBars]) / float64(slopeBars)
		if emaSlow[n-1] != 0 {
			features[domain.FeatureDistEMASlowPct] = (price - emaSlow[n-1]) / emaSlow[n-1] * 100
		}
		features[domain.FeatureStructure] = structureFlag(highs, lows)

		rsi := indicator.RSI(closes, rsiPeriod)
		features[domain.FeatureRSI] = rsi[n-1]
		features[domain.FeatureRSISlope] = (rsi[n-1] - rsi[n-1-slopeBars]) / float64(slopeBars)
		if closes[n-1-rocBars] != 0 {
			features[domain.FeatureROCPct] = (price - closes[n-1-rocBars]) / closes[n-1-rocBars] * 100
		}
	}

	if atr, ok := indicator.ATR(highs, lows, closes, atrPeriod); ok {
		features[domain.FeatureATR] = atr
		if price != 0 {
			features[domain.FeatureATRPct] = atr / price * 100
		}
		if atr > 0 && n >= compressionBars {
			rangeHigh := maxOf(highs[n-compressionBars:])
			rangeLow := minOf(lows[n-compressionBars:])
			features[domain.FeatureCompression] = (rangeHigh - rangeLow) / atr
		}
	}

	if adx, ok := indicator.ADX(highs, lows, closes, adxPeriod); ok {
		features[domain.FeatureADX] = adx
	}

	if n >= bollingerPeriod {
		mean, std := meanStd(closes[n-bollingerPeriod:])
		if mean != 0 {
			features[domain.FeatureBBWidthPct] = 2 * bollingerStdDevs * std / mean * 100
		}
	}

	if n >= volumeWindow {
		volMean, _ := meanStd(volumes[n-volumeWindow:])
		features[domain.FeatureVolMean] = volMean
		if volMean > 0 {
			features[domain.FeatureVolRatio] = volumes[n-1] / volMean
		}
	}
	if n > slopeBars {
		features[domain.FeatureVolSlope] = (volumes[n-1] - volumes[n-1-slopeBars]) / float64(slopeBars)
	}

	// Prior high/low exclude the current bar.
	if n > levelWindow {
		prevHigh := maxOf(highs[n-1-levelWindow : n-1])
		prevLow := minOf(lows[n-1-levelWindow : n-1])
		features[domain.FeaturePrevHigh] = prevHigh
		features[domain.FeaturePrevLow] = prevLow
		if price != 0 {
			features[domain.FeatureDistToHighPct] = (prevHigh - price) / price * 100
			features[domain.FeatureDistToLowPct] = (price - prevLow) / price * 100
		}
	}

	return features
}

// structureFlag reports +1 for higher highs and higher lows over the last
// structureBars bars, -1 for lower highs and lower lows, 0 otherwise.
func structureFlag(highs, lows []float64) float64 {
	n := len(highs)
	if n < structureBars {
		return 0
	}
	h0, h1, h2 := highs[n-structureBars], highs[n-3], highs[n-1]
	l0, l1, l2 := lows[n-structureBars], lows[n-3], lows[n-1]

	if h2 > h1 && h1 > h0 && l2 > l1 && l1 > l0 {
		return 1
	}
	if h2 < h1 && h1 < h0 && l2 < l1 && l1 < l0 {
		return -1
	}
	return 0
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) == 1 {
		return mean, 0
	}
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
