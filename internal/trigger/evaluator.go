// Package trigger confirms breakouts for open setups and shapes them into
// actionable entries.
package trigger

import (
	"math"

	"breakout-radar/internal/domain"
)

// Confirmation modes. Exactly one is active at a time.
const (
	ModeRetest   = "retest"
	ModeClose    = "close"
	ModeMomentum = "momentum"
)

type Config struct {
	// BufferPct shifts the breakout price beyond the setup level, in percent.
	BufferPct float64
	Mode      string

	// RetestWindowBars bounds how far back the retest scan looks.
	RetestWindowBars int
	MomentumATRMult  float64

	// Entry-only filters, stricter than the setup-stage floors.
	EntryADXFloor    float64
	EntryVolumeFloor float64

	// MinStopPct is the minimum stop-loss distance in percent of entry.
	MinStopPct float64
	// RewardRR shapes the provisional take-profit distance. The risk engine
	// applies the binding per-leverage reward minimum when sizing the trade.
	RewardRR float64

	SwingBars int
	ATRMult   float64
}

func DefaultConfig() Config {
	return Config{
		BufferPct:        0.05,
		Mode:             ModeRetest,
		RetestWindowBars: 6,
		MomentumATRMult:  1.2,
		EntryADXFloor:    22,
		EntryVolumeFloor: 1.2,
		MinStopPct:       0.3,
		RewardRR:         2.0,
		SwingBars:        10,
		ATRMult:          1.5,
	}
}

type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Mode == "" {
		cfg = DefaultConfig()
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate checks whether a live price confirms an open setup's breakout and,
// if so, returns the resulting entry. A false second return means "no entry"
// for any reason: unconfirmed breakout, entry filters, or unusable risk
// geometry. It is not an error.
func (e *Evaluator) Evaluate(
	s domain.Setup,
	livePrice float64,
	series *domain.CandleSeries,
	features domain.FeatureSet,
) (domain.Entry, bool) {
	if livePrice <= 0 || series.Len() < e.cfg.RetestWindowBars+1 {
		return domain.Entry{}, false
	}
	atr, ok := features.Get(domain.FeatureATR)
	if !ok || atr <= 0 {
		return domain.Entry{}, false
	}

	breakout := breakoutPrice(s, e.cfg.BufferPct)
	if !e.confirmed(s, breakout, livePrice, series, atr) {
		return domain.Entry{}, false
	}

	adx, okADX := features.Get(domain.FeatureADX)
	volRatio, okVol := features.Get(domain.FeatureVolRatio)
	if !okADX || !okVol || adx < e.cfg.EntryADXFloor || volRatio < e.cfg.EntryVolumeFloor {
		return domain.Entry{}, false
	}

	stop, ok := e.stopLoss(s.Direction, livePrice, atr, series)
	if !ok {
		return domain.Entry{}, false
	}

	risk := math.Abs(livePrice - stop)
	if risk <= 0 {
		return domain.Entry{}, false
	}

	var takeProfit float64
	if s.Direction == domain.DirectionLong {
		takeProfit = livePrice + risk*e.cfg.RewardRR
	} else {
		takeProfit = livePrice - risk*e.cfg.RewardRR
	}

	confidence := int(math.Round(clamp(50+(s.Score+e.modeBonus())*45, 50, 95)))

	return domain.Entry{
		Symbol:     s.Symbol,
		Direction:  s.Direction,
		Price:      livePrice,
		StopLoss:   stop,
		TakeProfit: takeProfit,
		Confidence: confidence,
		SetupScore: s.Score,
		Mode:       e.cfg.Mode,
	}, true
}

func breakoutPrice(s domain.Setup, bufferPct float64) float64 {
	buffer := s.Level * bufferPct / 100
	if s.Direction == domain.DirectionLong {
		return s.Level + buffer
	}
	return s.Level - buffer
}

func (e *Evaluator) confirmed(
	s domain.Setup,
	breakout, livePrice float64,
	series *domain.CandleSeries,
	atr float64,
) bool {
	long := s.Direction == domain.DirectionLong
	if long && livePrice < breakout {
		return false
	}
	if !long && livePrice > breakout {
		return false
	}

	candles := series.Candles
	last := candles[len(candles)-1]
	window := candles[len(candles)-e.cfg.RetestWindowBars:]

	switch e.cfg.Mode {
	case ModeClose:
		if long {
			return last.Close > breakout
		}
		return last.Close < breakout

	case ModeMomentum:
		if last.High-last.Low <= e.cfg.MomentumATRMult*atr {
			return false
		}
		if long {
			return last.Close > last.Open
		}
		return last.Close < last.Open

	default: // retest
		brokeOut := false
		for _, c := range window {
			// The retest must follow the breakout bar: the bar that crosses
			// the level has its own low behind it by construction.
			if !brokeOut {
				if long && c.High > breakout {
					brokeOut = true
				}
				if !long && c.Low < breakout {
					brokeOut = true
				}
				continue
			}
			if long && c.Low <= breakout {
				return true
			}
			if !long && c.High >= breakout {
				return true
			}
		}
		return false
	}
}

// stopLoss picks the tighter of the structural swing extreme and the ATR
// multiple, then widens it to the configured minimum stop percentage.
func (e *Evaluator) stopLoss(
	direction domain.Direction,
	entry, atr float64,
	series *domain.CandleSeries,
) (float64, bool) {
	candles := series.Candles
	swingBars := e.cfg.SwingBars
	if len(candles) < swingBars {
		swingBars = len(candles)
	}
	recent := candles[len(candles)-swingBars:]

	var stop float64
	if direction == domain.DirectionLong {
		swingLow := recent[0].Low
		for _, c := range recent[1:] {
			if c.Low < swingLow {
				swingLow = c.Low
			}
		}
		stop = math.Max(swingLow, entry-atr*e.cfg.ATRMult)
		minStop := entry * (1 - e.cfg.MinStopPct/100)
		if stop > minStop {
			stop = minStop
		}
		if stop >= entry {
			return 0, false
		}
	} else {
		swingHigh := recent[0].High
		for _, c := range recent[1:] {
			if c.High > swingHigh {
				swingHigh = c.High
			}
		}
		stop = math.Min(swingHigh, entry+atr*e.cfg.ATRMult)
		minStop := entry * (1 + e.cfg.MinStopPct/100)
		if stop < minStop {
			stop = minStop
		}
		if stop <= entry {
			return 0, false
		}
	}
	return stop, true
}

func (e *Evaluator) modeBonus() float64 {
	switch e.cfg.Mode {
	case ModeRetest:
		return 0.10
	case ModeMomentum:
		return 0.05
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
