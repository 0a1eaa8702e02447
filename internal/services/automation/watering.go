package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/persistence"
	"github.com/LeonardoBeccarini/garden_automation/pkg/keylock"
)

// EventStore is the watering-event half of the persistence gateway.
type EventStore interface {
	StartWateringEvent(ctx context.Context, plantID int64, moistureBefore float64, duration int, predictionID *int64) (int64, error)
	FinalizeWateringEvent(ctx context.Context, eventID int64, moistureAfter float64) error
}

// WateringState is the per-plant lifecycle state. The zero value is Idle.
type WateringState struct {
	AwaitingAfter bool
	LastRecordID  int64
}

// ReactivationPolicy decides what an active pump decision does while an
// event is still waiting for its after-moisture.
type ReactivationPolicy string

const (
	// ReactivationRestart closes the pending event with the current moisture
	// and opens a new one.
	ReactivationRestart ReactivationPolicy = "restart"
	// ReactivationKeep leaves the pending event open and ignores the activation.
	ReactivationKeep ReactivationPolicy = "keep"
)

type Transition int

const (
	TransitionNone Transition = iota
	TransitionStarted
	TransitionFinalized
	TransitionRestarted
	TransitionKept
)

func (t Transition) String() string {
	switch t {
	case TransitionStarted:
		return "started"
	case TransitionFinalized:
		return "finalized"
	case TransitionRestarted:
		return "restarted"
	case TransitionKept:
		return "kept"
	default:
		return "none"
	}
}

// Tracker brackets pump activations with before/after moisture readings.
// State lives in memory for the life of the process.
type Tracker struct {
	store  EventStore
	policy ReactivationPolicy
	locks  *keylock.Locks[int64]
	logger zerolog.Logger

	mu     sync.Mutex
	states map[int64]WateringState
}

func NewTracker(store EventStore, policy ReactivationPolicy) *Tracker {
	if policy == "" {
		policy = ReactivationRestart
	}
	return &Tracker{
		store:  store,
		policy: policy,
		locks:  keylock.New[int64](),
		logger: log.With().Str("component", "tracker").Logger(),
		states: make(map[int64]WateringState),
	}
}

// State returns a copy of the plant's current state.
func (t *Tracker) State(plantID int64) WateringState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[plantID]
}

func (t *Tracker) setState(plantID int64, s WateringState) {
	t.mu.Lock()
	if s.AwaitingAfter {
		t.states[plantID] = s
	} else {
		delete(t.states, plantID)
	}
	t.mu.Unlock()
}

// Update advances the plant's state for one reading and its decision. A failed
// store call leaves the state as it was, except when the pending event no
// longer exists or is already closed, in which case the plant returns to Idle.
func (t *Tracker) Update(ctx context.Context, reading model.SensorReading, decision model.AutomationDecision, predictionID *int64) (Transition, error) {
	plantID := reading.PlantID
	unlock := t.locks.Lock(plantID)
	defer unlock()

	st := t.State(plantID)
	active := decision.WaterPump.Active
	logger := t.logger.With().Int64("plant_id", plantID).Logger()

	switch {
	case !st.AwaitingAfter && active:
		id, err := t.start(ctx, reading, decision, predictionID)
		if err != nil {
			return TransitionNone, err
		}
		t.setState(plantID, WateringState{AwaitingAfter: true, LastRecordID: id})
		logger.Info().Int64("event_id", id).Float64("moisture_before", reading.Moisture).
			Int("duration", decision.WaterPump.Duration).Msg("Watering event started")
		return TransitionStarted, nil

	case st.AwaitingAfter && !active:
		if err := t.finalize(ctx, plantID, st.LastRecordID, reading.Moisture); err != nil {
			return TransitionNone, err
		}
		t.setState(plantID, WateringState{})
		logger.Info().Int64("event_id", st.LastRecordID).Float64("moisture_after", reading.Moisture).Msg("Watering event finalized")
		return TransitionFinalized, nil

	case st.AwaitingAfter && active:
		if t.policy == ReactivationKeep {
			logger.Debug().Int64("event_id", st.LastRecordID).Msg("Pump still active, keeping pending event")
			return TransitionKept, nil
		}
		if err := t.finalize(ctx, plantID, st.LastRecordID, reading.Moisture); err != nil {
			return TransitionNone, err
		}
		t.setState(plantID, WateringState{})
		id, err := t.start(ctx, reading, decision, predictionID)
		if err != nil {
			return TransitionFinalized, err
		}
		t.setState(plantID, WateringState{AwaitingAfter: true, LastRecordID: id})
		logger.Info().Int64("closed_event_id", st.LastRecordID).Int64("event_id", id).Msg("Watering event restarted")
		return TransitionRestarted, nil

	default:
		return TransitionNone, nil
	}
}

func (t *Tracker) start(ctx context.Context, r model.SensorReading, d model.AutomationDecision, predictionID *int64) (int64, error) {
	id, err := t.store.StartWateringEvent(ctx, r.PlantID, r.Moisture, d.WaterPump.Duration, predictionID)
	if err != nil {
		return 0, newError(KindPersistence, "start watering event", r.PlantID, err)
	}
	return id, nil
}

func (t *Tracker) finalize(ctx context.Context, plantID, eventID int64, moisture float64) error {
	err := t.store.FinalizeWateringEvent(ctx, eventID, moisture)
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrEventNotFound) || errors.Is(err, persistence.ErrEventFinalized) {
		t.setState(plantID, WateringState{})
		t.logger.Warn().Err(err).Int64("plant_id", plantID).Int64("event_id", eventID).Msg("Pending event unusable, back to idle")
	}
	return newError(KindPersistence, "finalize watering event", plantID, fmt.Errorf("event %d: %w", eventID, err))
}
