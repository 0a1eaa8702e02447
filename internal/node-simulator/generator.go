package node_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

const (
	// gainPerSecond is the moisture added per second of pump run.
	gainPerSecond = 0.005
	// growLightLux is added to the ambient light while the grow light is on.
	growLightLux = 400.0
	defaultSeed  = 0.5
)

// DataGenerator keeps the simulated state of one plant pot: soil moisture as
// a fraction in [0..1] that dries a fixed step per reading and recovers when
// the pump runs.
type DataGenerator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	moisture  float64
	dryStep   float64
	pending   float64
	lightOn   bool
	plantType string
}

// NewDataGenerator starts at seed (0.5 when out of range). dryRate is in
// percentage points lost per reading.
func NewDataGenerator(seed, dryRate float64, plantType string, rng *rand.Rand) *DataGenerator {
	if seed <= 0 || seed > 1 {
		seed = defaultSeed
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DataGenerator{
		rng:       rng,
		moisture:  seed,
		dryStep:   math.Max(0, dryRate) / 100,
		plantType: plantType,
	}
}

// Next advances the state by one reading taken at now.
func (g *DataGenerator) Next(plantID int64, now time.Time) model.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.moisture = clamp01(g.moisture + g.pending - g.dryStep)
	g.pending = 0

	daylight := daylightFactor(now)
	light := daylight*1000 + g.rng.Float64()*20
	if g.lightOn {
		light += growLightLux
	}

	return model.SensorReading{
		PlantID:     plantID,
		Moisture:    round(g.moisture, 3),
		Temperature: round(16+daylight*10+g.rng.Float64(), 1),
		Humidity:    round(40+g.moisture*30+g.rng.Float64()*5, 1),
		LightLevel:  round(light, 0),
		Timestamp:   now.UTC(),
		PlantType:   g.plantType,
	}
}

// Apply reflects a decision: a pump run adds water before the next reading,
// the grow light stays in the commanded state.
func (g *DataGenerator) Apply(d model.AutomationDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.WaterPump.Active && d.WaterPump.Duration > 0 {
		g.pending += gainPerSecond * float64(d.WaterPump.Duration)
	}
	g.lightOn = d.GrowLight.Active
}

func (g *DataGenerator) Moisture() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moisture
}

// daylightFactor is 0 at night and peaks at 1 at 12:00.
func daylightFactor(t time.Time) float64 {
	h := float64(t.Hour()) + float64(t.Minute())/60
	if h < 6 || h > 18 {
		return 0
	}
	return math.Sin((h - 6) / 12 * math.Pi)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
