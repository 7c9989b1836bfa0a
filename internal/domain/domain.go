package domain

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CandleSeries holds a time-ascending OHLCV series for one symbol/interval.
// Accessors copy into fresh slices so indicator code never mutates the
// underlying candles.
type CandleSeries struct {
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Candles  []Candle `json:"candles"`
}

func (s *CandleSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

func (s *CandleSeries) Closes() []float64 {
	return s.extract(func(c Candle) float64 { return c.Close })
}

func (s *CandleSeries) Highs() []float64 {
	return s.extract(func(c Candle) float64 { return c.High })
}

func (s *CandleSeries) Lows() []float64 {
	return s.extract(func(c Candle) float64 { return c.Low })
}

func (s *CandleSeries) Volumes() []float64 {
	return s.extract(func(c Candle) float64 { return c.Volume })
}

func (s *CandleSeries) Timestamps() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, len(s.Candles))
	for i := range s.Candles {
		out[i] = s.Candles[i].OpenTime
	}
	return out
}

func (s *CandleSeries) LastClose() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

func (s *CandleSeries) extract(f func(Candle) float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.Candles))
	for i := range s.Candles {
		out[i] = f(s.Candles[i])
	}
	return out
}

// Feature keys. A missing key means the indicator is undefined for the
// series length; callers must treat a missing key as blocking.
const (
	FeatureEMAFast        = "ema_fast"
	FeatureEMASlow        = "ema_slow"
	FeatureEMAFastSlope   = "ema_fast_slope"
	FeatureDistEMASlowPct = "dist_ema_slow_pct"
	FeatureStructure      = "structure"
	FeatureRSI            = "rsi"
	FeatureRSISlope       = "rsi_slope"
	FeatureROCPct         = "roc_pct"
	FeatureATR            = "atr"
	FeatureATRPct         = "atr_pct"
	FeatureADX            = "adx"
	FeatureBBWidthPct     = "bb_width_pct"
	FeatureVolMean        = "vol_mean"
	FeatureVolRatio       = "vol_ratio"
	FeatureVolSlope       = "vol_slope"
	FeaturePrevHigh       = "prev_high"
	FeaturePrevLow        = "prev_low"
	FeatureDistToHighPct  = "dist_to_high_pct"
	FeatureDistToLowPct   = "dist_to_low_pct"
	FeatureCompression    = "compression"
	FeaturePrice          = "price"
)

type FeatureSet map[string]float64

func (f FeatureSet) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[k]; !ok {
			return false
		}
	}
	return true
}

func (f FeatureSet) Get(key string) (float64, bool) {
	v, ok := f[key]
	return v, ok
}

type Regime string

const (
	RegimeTrendUp   Regime = "TREND_UP"
	RegimeTrendDown Regime = "TREND_DOWN"
	RegimeRange     Regime = "RANGE"
	RegimeChop      Regime = "CHOP"
	RegimeHighVol   Regime = "HIGH_VOLATILITY"
	RegimeLowVol    Regime = "LOW_VOLATILITY"
)

// Setup is a candidate breakout awaiting trigger confirmation. At most one
// open setup exists per (symbol, direction) key.
type Setup struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Level     float64   `json:"level"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Setup) Key() string {
	return SignalKey(s.Symbol, s.Direction)
}

func (s Setup) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SignalKey is the cooldown/registry key for a symbol and direction.
func SignalKey(symbol string, direction Direction) string {
	return fmt.Sprintf("%s_%s", symbol, direction)
}

// Entry is a confirmed, actionable signal. It is ephemeral: consumed into a
// notification and the last-signal record, leaving only a cooldown stamp.
type Entry struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Confidence int       `json:"confidence"`
	SetupScore float64   `json:"setup_score"`
	Mode       string    `json:"mode"`
}

type RiskResult struct {
	OK         bool    `json:"ok"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	LiqPrice   float64 `json:"liq_price"`
	RiskUSD    float64 `json:"risk_usd"`
	ProfitUSD  float64 `json:"profit_usd"`
	Reason     string  `json:"reason,omitempty"`
}

type SignalKind string

const (
	SignalKindSetup SignalKind = "setup"
	SignalKindEntry SignalKind = "entry"
)

// Signal is the persisted/reported form of an emitted setup or entry.
type Signal struct {
	ID         int64      `json:"id"`
	Symbol     string     `json:"symbol"`
	Interval   string     `json:"interval"`
	Kind       SignalKind `json:"kind"`
	Direction  Direction  `json:"direction"`
	Price      float64    `json:"price"`
	Confidence int        `json:"confidence"`
	StopLoss   float64    `json:"stop_loss,omitempty"`
	TakeProfit float64    `json:"take_profit,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Details    string     `json:"details,omitempty"`
}

type SignalFilter struct {
	Symbol    string
	Kind      SignalKind
	Direction Direction
	Limit     int
}

// LastSignal is the compact record shown by /signals.
type LastSignal struct {
	Pair       string    `json:"pair"`
	Direction  Direction `json:"direction"`
	Confidence int       `json:"confidence"`
	Price      float64   `json:"price"`
	At         time.Time `json:"at"`
}
