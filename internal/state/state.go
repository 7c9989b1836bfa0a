package state

import (
	"time"

	"breakout-radar/internal/domain"
)

const CurrentVersion = 1

// EngineState is the durable part of the signal engine: runtime tunables the
// bot can change, plus cooldown stamps and open setups that must survive a
// restart. Everything else is recomputed from candles on the next cycle.
type EngineState struct {
	Version        int                         `json:"version"`
	MinConfidence  int                         `json:"min_confidence"`
	Paused         bool                        `json:"paused"`
	Leverage       float64                     `json:"leverage"`
	PositionUSD    float64                     `json:"position_usd"`
	EnabledSymbols []string                    `json:"enabled_symbols"`
	SetupCooldowns map[string]time.Time        `json:"setup_cooldowns"`
	EntryCooldowns map[string]time.Time        `json:"entry_cooldowns"`
	OpenSetups     map[string]domain.Setup     `json:"open_setups"`
	LastSignals    map[string]domain.LastSignal `json:"last_signals"`
}

func NewEngineState() *EngineState {
	return &EngineState{
		Version:        CurrentVersion,
		SetupCooldowns: make(map[string]time.Time),
		EntryCooldowns: make(map[string]time.Time),
		OpenSetups:     make(map[string]domain.Setup),
		LastSignals:    make(map[string]domain.LastSignal),
	}
}

// normalize fills nil maps so callers never have to nil-check after a load.
func (s *EngineState) normalize() {
	if s.SetupCooldowns == nil {
		s.SetupCooldowns = make(map[string]time.Time)
	}
	if s.EntryCooldowns == nil {
		s.EntryCooldowns = make(map[string]time.Time)
	}
	if s.OpenSetups == nil {
		s.OpenSetups = make(map[string]domain.Setup)
	}
	if s.LastSignals == nil {
		s.LastSignals = make(map[string]domain.LastSignal)
	}
}

// PruneExpired drops expired setups and cooldown stamps older than the given
// retention windows. Returns the number of setups removed.
func (s *EngineState) PruneExpired(now time.Time, setupCooldown, entryCooldown time.Duration) int {
	removed := 0
	for key, setup := range s.OpenSetups {
		if setup.Expired(now) {
			delete(s.OpenSetups, key)
			removed++
		}
	}
	for key, stamp := range s.SetupCooldowns {
		if now.Sub(stamp) > setupCooldown {
			delete(s.SetupCooldowns, key)
		}
	}
	for key, stamp := range s.EntryCooldowns {
		if now.Sub(stamp) > entryCooldown {
			delete(s.EntryCooldowns, key)
		}
	}
	return removed
}
