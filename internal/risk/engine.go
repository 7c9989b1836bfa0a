// Package risk sizes stop-loss and take-profit for leveraged entries under a
// liquidation-distance constraint.
package risk

import (
	"math"

	"breakout-radar/internal/domain"
)

const (
	liqBufferRatio  = 0.15
	minDistATRRatio = 0.2
	minDistLiqRatio = 0.1
	maxDistLiqRatio = 0.85
)

// Tables are the leverage-bracketed sizing knobs. Index 0 applies at leverage
// <= 10, index 1 at <= 25, index 2 at <= 50, index 3 above that. The ATR
// multiplier tightens the stop as leverage grows; the reward multiple rises
// with it.
type Tables struct {
	SLATRMult [4]float64
	MinRR     [4]float64
}

func DefaultTables() Tables {
	return Tables{
		SLATRMult: [4]float64{1.6, 1.3, 1.1, 0.9},
		MinRR:     [4]float64{1.6, 1.8, 2.0, 2.2},
	}
}

// normalize fills unset tables so a zero-valued Params.Tables keeps the
// default brackets.
func (t Tables) normalize() Tables {
	def := DefaultTables()
	if t.SLATRMult == ([4]float64{}) {
		t.SLATRMult = def.SLATRMult
	}
	if t.MinRR == ([4]float64{}) {
		t.MinRR = def.MinRR
	}
	return t
}

func bracket(leverage int) int {
	switch {
	case leverage <= 10:
		return 0
	case leverage <= 25:
		return 1
	case leverage <= 50:
		return 2
	default:
		return 3
	}
}

// Params describe one candidate trade. SwingHigh/SwingLow are the recent
// structural extremes; zero means the extreme is unknown. A zero Tables uses
// the default brackets.
type Params struct {
	Direction   domain.Direction
	EntryPrice  float64
	ATR         float64
	ATRDefined  bool
	SwingHigh   float64
	SwingLow    float64
	Leverage    int
	PositionUSD float64
	Tables      Tables
}

// Evaluate computes a liquidation-safe stop-loss, take-profit, and monetary
// risk/reward. An infeasible result (ok=false with a reason) is a deliberate
// refusal to size a too-risky trade, not an error.
func Evaluate(p Params) domain.RiskResult {
	if p.EntryPrice <= 0 || p.Leverage <= 0 || p.PositionUSD <= 0 {
		return domain.RiskResult{Reason: "invalid input parameters"}
	}
	if !p.ATRDefined || p.ATR <= 0 {
		return domain.RiskResult{Reason: "ATR unavailable"}
	}

	tables := p.Tables.normalize()
	idx := bracket(p.Leverage)

	long := p.Direction == domain.DirectionLong
	var liqPrice float64
	if long {
		liqPrice = p.EntryPrice * (1 - 1/float64(p.Leverage))
	} else {
		liqPrice = p.EntryPrice * (1 + 1/float64(p.Leverage))
	}
	liqDistance := math.Abs(p.EntryPrice - liqPrice)
	if liqDistance <= 0 {
		return domain.RiskResult{LiqPrice: liqPrice, Reason: "insufficient distance to liquidation"}
	}

	bufferDistance := liqDistance * liqBufferRatio
	minDistance := math.Max(p.ATR*minDistATRRatio, liqDistance*minDistLiqRatio)
	maxDistance := liqDistance * maxDistLiqRatio

	var liqSafe, slStruct, slATR float64
	if long {
		liqSafe = liqPrice + bufferDistance
		slStruct = p.SwingLow
		slATR = p.EntryPrice - p.ATR*tables.SLATRMult[idx]
	} else {
		liqSafe = liqPrice - bufferDistance
		slStruct = p.SwingHigh
		slATR = p.EntryPrice + p.ATR*tables.SLATRMult[idx]
	}

	var valid []float64
	for _, sl := range []float64{slStruct, slATR, liqSafe} {
		if sl == 0 {
			continue
		}
		if long {
			if !(liqSafe < sl && sl < p.EntryPrice) {
				continue
			}
		} else {
			if !(p.EntryPrice < sl && sl < liqSafe) {
				continue
			}
		}
		distance := math.Abs(p.EntryPrice - sl)
		if distance < minDistance || distance > maxDistance {
			continue
		}
		valid = append(valid, sl)
	}

	if len(valid) == 0 {
		return domain.RiskResult{
			LiqPrice: liqPrice,
			Reason:   "risk too high for the selected leverage",
		}
	}

	sl := valid[0]
	for _, candidate := range valid[1:] {
		if math.Abs(p.EntryPrice-candidate) < math.Abs(p.EntryPrice-sl) {
			sl = candidate
		}
	}

	riskDistance := math.Abs(p.EntryPrice - sl)
	rr := tables.MinRR[idx]
	var tp float64
	if long {
		tp = p.EntryPrice + riskDistance*rr
	} else {
		tp = p.EntryPrice - riskDistance*rr
	}

	notional := p.PositionUSD * float64(p.Leverage)
	return domain.RiskResult{
		OK:         true,
		StopLoss:   sl,
		TakeProfit: tp,
		LiqPrice:   liqPrice,
		RiskUSD:    notional * riskDistance / p.EntryPrice,
		ProfitUSD:  notional * math.Abs(tp-p.EntryPrice) / p.EntryPrice,
	}
}
