package automation

import (
	"context"
	"sync"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/persistence"
)

// fakeGateway is an in-memory Gateway with injectable failures.
type fakeGateway struct {
	mu       sync.Mutex
	readings []model.SensorReading
	settings map[int64]model.PlantSettings
	profiles map[string]model.DefaultSettingsProfile
	events   map[int64]*model.WateringEvent
	nextID   int64
	upserts  int

	storeErr    error
	getErr      error
	upsertErr   error
	startErr    error
	finalizeErr error
	panicOnRead bool
	// onMiss runs once, outside the lock, after the first settings miss.
	onMiss func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		settings: make(map[int64]model.PlantSettings),
		profiles: entities.BuiltinProfiles(),
		events:   make(map[int64]*model.WateringEvent),
	}
}

func (g *fakeGateway) StoreReading(_ context.Context, r model.SensorReading) error {
	if g.panicOnRead {
		panic("boom")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.storeErr != nil {
		return g.storeErr
	}
	g.readings = append(g.readings, r)
	return nil
}

func (g *fakeGateway) GetSettings(_ context.Context, plantID int64) (model.PlantSettings, error) {
	g.mu.Lock()
	if g.getErr != nil {
		g.mu.Unlock()
		return model.PlantSettings{}, g.getErr
	}
	s, ok := g.settings[plantID]
	hook := g.onMiss
	if !ok {
		g.onMiss = nil
	}
	g.mu.Unlock()

	if !ok {
		if hook != nil {
			hook()
		}
		return model.PlantSettings{}, persistence.ErrSettingsNotFound
	}
	return s, nil
}

func (g *fakeGateway) UpsertSettings(_ context.Context, s model.PlantSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return g.upsertErr
	}
	g.upserts++
	g.settings[s.PlantID] = s
	return nil
}

func (g *fakeGateway) GetProfile(_ context.Context, plantType string) (model.DefaultSettingsProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[plantType]
	if !ok {
		return p, persistence.ErrProfileNotFound
	}
	return p, nil
}

func (g *fakeGateway) StartWateringEvent(_ context.Context, plantID int64, before float64, duration int, predictionID *int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return 0, g.startErr
	}
	g.nextID++
	g.events[g.nextID] = &model.WateringEvent{
		ID: g.nextID, PlantID: plantID, WateringDuration: duration, MoistureBefore: before, PredictionID: predictionID,
	}
	return g.nextID, nil
}

func (g *fakeGateway) FinalizeWateringEvent(_ context.Context, eventID int64, after float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalizeErr != nil {
		return g.finalizeErr
	}
	e, ok := g.events[eventID]
	if !ok {
		return persistence.ErrEventNotFound
	}
	if e.MoistureAfter != nil {
		return persistence.ErrEventFinalized
	}
	e.MoistureAfter = &after
	return nil
}

func (g *fakeGateway) event(id int64) model.WateringEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.events[id]
}

func (g *fakeGateway) readingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.readings)
}
