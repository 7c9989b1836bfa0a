// Package indicator provides the pure technical-analysis primitives used by
// the feature extractor. All functions are deterministic and never mutate
// their inputs.
package indicator

import "math"

// EMA returns an exponential moving average series of the same length as the
// input. The series is seeded with the first raw value rather than an SMA of
// the first period points; early values are therefore biased by construction.
// Downstream thresholds were tuned against this seeding, so it must not be
// changed to the textbook variant.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + k*(values[i]-out[i-1])
	}
	return out
}

// RSI returns a Wilder-smoothed relative strength index series of the same
// length as the input, padded with 50.0 before the warm-up window completes.
// When the average loss is exactly zero the RSI is defined as 100.0.
func RSI(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}

	gains := make([]float64, 0, len(values)-1)
	losses := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		gains = append(gains, math.Max(diff, 0))
		losses = append(losses, math.Max(-diff, 0))
	}

	if len(gains) < period {
		out := make([]float64, len(values))
		for i := range out {
			out[i] = 50.0
		}
		return out
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values))
	for i := 0; i <= period; i++ {
		out = append(out, 50.0)
	}

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		if avgLoss == 0 {
			out = append(out, 100.0)
		} else {
			rs := avgGain / avgLoss
			out = append(out, 100.0-(100.0/(1.0+rs)))
		}
	}

	return out
}

// ATR returns the latest Wilder-smoothed average true range. The second
// return value is false when fewer than period+1 closes are available.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	trs := trueRanges(highs, lows, closes)

	var atr float64
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr, true
}

// ADX returns the latest average directional index. The second return value
// is false when fewer than 2*period+1 closes are available. When the smoothed
// true range for a step is zero, the DX for that step is defined as 0.
func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < 2*period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	trs := trueRanges(highs, lows, closes)
	plusDM := make([]float64, len(trs))
	minusDM := make([]float64, len(trs))
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	// Wilder running sums over the first period, then recursive smoothing.
	var smTR, smPlus, smMinus float64
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dxs := make([]float64, 0, len(trs)-period+1)
	dxs = append(dxs, dx(smTR, smPlus, smMinus))
	for i := period; i < len(trs); i++ {
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dxs = append(dxs, dx(smTR, smPlus, smMinus))
	}

	if len(dxs) < period {
		return 0, false
	}

	var adx float64
	for i := 0; i < period; i++ {
		adx += dxs[i]
	}
	adx /= float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return adx, true
}

func dx(smTR, smPlus, smMinus float64) float64 {
	if smTR == 0 {
		return 0
	}
	plusDI := 100.0 * smPlus / smTR
	minusDI := 100.0 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100.0 * math.Abs(plusDI-minusDI) / sum
}

func trueRanges(highs, lows, closes []float64) []float64 {
	trs := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trs[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	return trs
}
