package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	DatabaseURL      string
	RedisURL         string
	BybitBaseURL     string

	Symbols     []string
	Interval    string
	HTFInterval string
	PollSecs    int
	Workers     int
	CandleLimit int

	CandleCacheSecs int
	HTFCacheSecs    int

	SetupCooldownMins int
	EntryCooldownMins int
	SetupTTLMins      int
	MinConfidence     int

	Leverage    float64
	PositionUSD float64

	HighVolATRPct float64
	LowVolATRPct  float64
	ChopADX       float64
	TrendADX      float64

	SetupMinScore       float64
	SetupMaxDistancePct float64
	RequireHTFAlignment bool

	SetupADXFloor    float64
	SetupVolumeFloor float64
	SetupRSIBandLow  float64
	SetupRSIBandHigh float64

	WeightTrend     float64
	WeightADX       float64
	WeightVolume    float64
	WeightProximity float64
	WeightPattern   float64

	TriggerMode      string
	BreakoutBuffPct  float64
	EntryADXFloor    float64
	EntryVolumeFloor float64

	RetestWindowBars int
	MomentumATRMult  float64
	MinStopPct       float64
	RewardRR         float64
	TriggerSwingBars int
	TriggerATRMult   float64

	// Leverage-bracketed risk tables, four values per table for leverage
	// <=10, <=25, <=50, and above.
	RiskSLATRMults [4]float64
	RiskMinRRs     [4]float64
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			log.Printf("Warning: invalid TELEGRAM_CHAT_ID=%q", v)
		}
	}

	cfg.BybitBaseURL = strings.TrimSpace(os.Getenv("BYBIT_BASE_URL"))
	if cfg.BybitBaseURL == "" {
		cfg.BybitBaseURL = "https://api.bybit.com"
	}

	cfg.Symbols = parseSymbols(os.Getenv("SYMBOLS"))

	cfg.Interval = strings.TrimSpace(os.Getenv("INTERVAL"))
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	cfg.HTFInterval = strings.TrimSpace(os.Getenv("HTF_INTERVAL"))
	if cfg.HTFInterval == "" {
		cfg.HTFInterval = "1h"
	}

	cfg.PollSecs = 60
	if v := os.Getenv("POLL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollSecs = n
		}
	}

	cfg.Workers = 4
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}

	cfg.CandleLimit = 300
	if v := os.Getenv("CANDLE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 200 {
			cfg.CandleLimit = n
		}
	}

	cfg.CandleCacheSecs = 45
	if v := os.Getenv("CANDLE_CACHE_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CandleCacheSecs = n
		}
	}

	cfg.HTFCacheSecs = 300
	if v := os.Getenv("HTF_CACHE_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTFCacheSecs = n
		}
	}

	cfg.SetupCooldownMins = 45
	if v := os.Getenv("SETUP_COOLDOWN_MINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SetupCooldownMins = n
		}
	}

	cfg.EntryCooldownMins = 90
	if v := os.Getenv("ENTRY_COOLDOWN_MINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EntryCooldownMins = n
		}
	}

	cfg.SetupTTLMins = 45
	if v := os.Getenv("SETUP_TTL_MINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SetupTTLMins = n
		}
	}

	cfg.MinConfidence = 62
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 50 && n <= 95 {
			cfg.MinConfidence = n
		}
	}

	cfg.Leverage = 10
	if v := os.Getenv("LEVERAGE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 1 && n <= 125 {
			cfg.Leverage = n
		}
	}

	cfg.PositionUSD = 25
	if v := os.Getenv("POSITION_USD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.PositionUSD = n
		}
	}

	cfg.HighVolATRPct = 4.0
	if v := os.Getenv("HIGH_VOL_ATR_PCT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.HighVolATRPct = n
		}
	}

	cfg.LowVolATRPct = 0.5
	if v := os.Getenv("LOW_VOL_ATR_PCT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.LowVolATRPct = n
		}
	}

	cfg.ChopADX = 15
	if v := os.Getenv("CHOP_ADX"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.ChopADX = n
		}
	}

	cfg.TrendADX = 22
	if v := os.Getenv("TREND_ADX"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.TrendADX = n
		}
	}

	cfg.SetupMinScore = 0.55
	if v := os.Getenv("SETUP_MIN_SCORE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 1 {
			cfg.SetupMinScore = n
		}
	}

	cfg.SetupMaxDistancePct = 0.6
	if v := os.Getenv("SETUP_MAX_DISTANCE_PCT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.SetupMaxDistancePct = n
		}
	}

	cfg.RequireHTFAlignment = true
	if v := strings.TrimSpace(os.Getenv("REQUIRE_HTF_ALIGNMENT")); v != "" {
		if strings.EqualFold(v, "false") {
			cfg.RequireHTFAlignment = false
		}
	}

	cfg.TriggerMode = strings.ToLower(strings.TrimSpace(os.Getenv("TRIGGER_MODE")))
	switch cfg.TriggerMode {
	case "retest", "close", "momentum":
	case "":
		cfg.TriggerMode = "retest"
	default:
		log.Printf("Warning: unsupported TRIGGER_MODE=%q, defaulting to retest", cfg.TriggerMode)
		cfg.TriggerMode = "retest"
	}

	cfg.BreakoutBuffPct = 0.05
	if v := os.Getenv("BREAKOUT_BUFFER_PCT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			cfg.BreakoutBuffPct = n
		}
	}

	cfg.EntryADXFloor = 22
	if v := os.Getenv("ENTRY_ADX_FLOOR"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.EntryADXFloor = n
		}
	}

	cfg.EntryVolumeFloor = 1.2
	if v := os.Getenv("ENTRY_VOLUME_FLOOR"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.EntryVolumeFloor = n
		}
	}

	cfg.SetupADXFloor = 18
	if v := os.Getenv("SETUP_ADX_FLOOR"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.SetupADXFloor = n
		}
	}

	cfg.SetupVolumeFloor = 0.9
	if v := os.Getenv("SETUP_VOLUME_FLOOR"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.SetupVolumeFloor = n
		}
	}

	cfg.SetupRSIBandLow = 28
	if v := os.Getenv("SETUP_RSI_BAND_LOW"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n < 100 {
			cfg.SetupRSIBandLow = n
		}
	}

	cfg.SetupRSIBandHigh = 72
	if v := os.Getenv("SETUP_RSI_BAND_HIGH"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 100 {
			cfg.SetupRSIBandHigh = n
		}
	}
	if cfg.SetupRSIBandHigh <= cfg.SetupRSIBandLow {
		log.Printf("Warning: SETUP_RSI_BAND_HIGH %.1f not above SETUP_RSI_BAND_LOW %.1f, using 28-72",
			cfg.SetupRSIBandHigh, cfg.SetupRSIBandLow)
		cfg.SetupRSIBandLow = 28
		cfg.SetupRSIBandHigh = 72
	}

	cfg.WeightTrend = weightEnv("SETUP_WEIGHT_TREND", 0.25)
	cfg.WeightADX = weightEnv("SETUP_WEIGHT_ADX", 0.20)
	cfg.WeightVolume = weightEnv("SETUP_WEIGHT_VOLUME", 0.20)
	cfg.WeightProximity = weightEnv("SETUP_WEIGHT_PROXIMITY", 0.20)
	cfg.WeightPattern = weightEnv("SETUP_WEIGHT_PATTERN", 0.15)

	cfg.RetestWindowBars = 6
	if v := os.Getenv("RETEST_WINDOW_BARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetestWindowBars = n
		}
	}

	cfg.MomentumATRMult = 1.2
	if v := os.Getenv("MOMENTUM_ATR_MULT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.MomentumATRMult = n
		}
	}

	cfg.MinStopPct = 0.3
	if v := os.Getenv("MIN_STOP_PCT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.MinStopPct = n
		}
	}

	cfg.RewardRR = 2.0
	if v := os.Getenv("REWARD_RR"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.RewardRR = n
		}
	}

	cfg.TriggerSwingBars = 10
	if v := os.Getenv("TRIGGER_SWING_BARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TriggerSwingBars = n
		}
	}

	cfg.TriggerATRMult = 1.5
	if v := os.Getenv("TRIGGER_SL_ATR_MULT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.TriggerATRMult = n
		}
	}

	cfg.RiskSLATRMults = bracketTableEnv("RISK_SL_ATR_MULTS", [4]float64{1.6, 1.3, 1.1, 0.9})
	cfg.RiskMinRRs = bracketTableEnv("RISK_MIN_RR_TABLE", [4]float64{1.6, 1.8, 2.0, 2.2})

	return cfg
}

func weightEnv(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 || n > 1 {
		log.Printf("Warning: invalid %s=%q, using %.2f", name, v, def)
		return def
	}
	return n
}

// bracketTableEnv parses a comma-separated table of four positive values, one
// per leverage bracket.
func bracketTableEnv(name string, def [4]float64) [4]float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		log.Printf("Warning: %s needs 4 comma-separated values, got %q", name, raw)
		return def
	}
	var out [4]float64
	for i, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || n <= 0 {
			log.Printf("Warning: invalid %s=%q, using defaults", name, raw)
			return def
		}
		out[i] = n
	}
	return out
}

func parseSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{"BTCUSDT", "SOLUSDT", "XRPUSDT"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	if len(out) == 0 {
		return []string{"BTCUSDT", "SOLUSDT", "XRPUSDT"}
	}
	return out
}
