package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const stateKey = "engine:state"

// legacyState is the pre-versioned layout: one cooldown map shared by setups
// and entries, no leverage or position sizing. Kept only so Load can migrate
// an old deployment in place.
type legacyState struct {
	MinConfidence int                  `json:"min_confidence"`
	Paused        bool                 `json:"paused"`
	Cooldowns     map[string]time.Time `json:"cooldowns"`
}

type Store struct {
	client *redis.Client
	tracer trace.Tracer
}

func NewStore(client *redis.Client, tracer trace.Tracer) *Store {
	return &Store{client: client, tracer: tracer}
}

// Load reads the persisted engine state. A missing key returns a fresh state,
// not an error. Blobs written before versioning are migrated to the current
// layout, treating the old single cooldown map as entry cooldowns.
func (s *Store) Load(ctx context.Context) (*EngineState, error) {
	ctx, span := s.tracer.Start(ctx, "state-store.load")
	defer span.End()

	raw, err := s.client.Get(ctx, stateKey).Bytes()
	if err == redis.Nil {
		return NewEngineState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load engine state: %w", err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode engine state: %w", err)
	}

	if probe.Version == 0 {
		var legacy legacyState
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy engine state: %w", err)
		}
		st := NewEngineState()
		st.MinConfidence = legacy.MinConfidence
		st.Paused = legacy.Paused
		for key, stamp := range legacy.Cooldowns {
			st.EntryCooldowns[key] = stamp
		}
		return st, nil
	}

	var st EngineState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode engine state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *Store) Save(ctx context.Context, st *EngineState) error {
	ctx, span := s.tracer.Start(ctx, "state-store.save")
	defer span.End()

	st.Version = CurrentVersion
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode engine state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}
