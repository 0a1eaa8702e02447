package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
)

const (
	StrategyRuleBased  = "rule_based"
	StrategyModelBased = "model_based"
)

// Strategy turns a batch of inputs into one decision per plant.
type Strategy interface {
	Name() string
	Decide(readings []model.SensorReading, settings []model.PlantSettings, predictions []model.Prediction) []model.AutomationDecision
}

// Result is the outcome of one Engine.Decide call.
type Result struct {
	Strategy  string
	Decisions []model.AutomationDecision
}

// Engine picks a strategy per batch. It does no I/O.
type Engine struct {
	rules *RuleBased
	model *ModelBased
}

func NewEngine(loc *time.Location, now func() time.Time) *Engine {
	return &Engine{rules: NewRuleBased(loc, now), model: &ModelBased{}}
}

// Choose returns the model strategy iff there are predictions and at least
// one plant in the batch has ml_enabled.
func (e *Engine) Choose(settings []model.PlantSettings, predictions []model.Prediction) Strategy {
	if len(predictions) == 0 {
		return e.rules
	}
	for _, s := range settings {
		if s.MLEnabled {
			return e.model
		}
	}
	return e.rules
}

func (e *Engine) Decide(readings []model.SensorReading, settings []model.PlantSettings, predictions []model.Prediction) Result {
	st := e.Choose(settings, predictions)
	return Result{Strategy: st.Name(), Decisions: st.Decide(readings, settings, predictions)}
}

// RuleBased compares each reading with the settings at the same position.
type RuleBased struct {
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

func NewRuleBased(loc *time.Location, now func() time.Time) *RuleBased {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &RuleBased{loc: loc, now: now, logger: log.With().Str("component", "engine").Logger()}
}

func (*RuleBased) Name() string { return StrategyRuleBased }

// Decide zips readings and settings, stopping at the shorter one.
func (r *RuleBased) Decide(readings []model.SensorReading, settings []model.PlantSettings, _ []model.Prediction) []model.AutomationDecision {
	n := min(len(readings), len(settings))
	now := r.now().In(r.loc)
	out := make([]model.AutomationDecision, 0, n)
	for i := 0; i < n; i++ {
		reading, s := readings[i], settings[i]
		water := NeedsWater(reading, s)
		light, err := NeedsLight(reading, s, now)
		if err != nil {
			r.logger.Warn().Err(err).Int64("plant_id", reading.PlantID).Msg("Light schedule unusable, grow light stays off")
		}

		d := model.AutomationDecision{PlantID: reading.PlantID}
		d.WaterPump.Active = water
		if water {
			d.WaterPump.Duration = s.WateringDuration
		}
		d.GrowLight.Active = light
		out = append(out, d)
	}
	return out
}

// NeedsWater is true at or below the moisture threshold.
func NeedsWater(r model.SensorReading, s model.PlantSettings) bool {
	return r.Moisture <= s.MoistureThreshold
}

// NeedsLight is true inside the inclusive schedule window when the light
// level is under the threshold. A bound that cannot be parsed yields false
// and a KindScheduleFormat error.
func NeedsLight(r model.SensorReading, s model.PlantSettings, now time.Time) (bool, error) {
	start, err := ParseScheduleBound(s.LightScheduleStart, now)
	if err != nil {
		return false, newError(KindScheduleFormat, "light schedule start", s.PlantID, err)
	}
	end, err := ParseScheduleBound(s.LightScheduleEnd, now)
	if err != nil {
		return false, newError(KindScheduleFormat, "light schedule end", s.PlantID, err)
	}
	inWindow := !now.Before(start) && !now.After(end)
	return inWindow && r.LightLevel < s.LightThreshold, nil
}

// ParseScheduleBound reads "2006-01-02 15:04:05" in now's location. A bare
// "15:04:05" is anchored to now's date.
func ParseScheduleBound(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(entities.ScheduleLayout, v, now.Location()); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(entities.TimeOfDayLayout, v, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule bound %q: want %q or %q", v, entities.ScheduleLayout, entities.TimeOfDayLayout)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
}

// ModelBased follows externally produced predictions. The pump state comes
// from the settings row, the light from the plant's prediction.
type ModelBased struct{}

func (*ModelBased) Name() string { return StrategyModelBased }

func (*ModelBased) Decide(_ []model.SensorReading, settings []model.PlantSettings, predictions []model.Prediction) []model.AutomationDecision {
	out := make([]model.AutomationDecision, 0, len(settings))
	for _, s := range settings {
		p, _ := PredictionFor(predictions, s.PlantID)
		d := model.AutomationDecision{PlantID: s.PlantID}
		d.WaterPump.Active = s.WaterPumpActive
		d.WaterPump.Duration = s.WateringDuration
		d.GrowLight.Active = p.NeedsLight
		out = append(out, d)
	}
	return out
}

// PredictionFor returns the prediction for plantID, or the zero value.
func PredictionFor(predictions []model.Prediction, plantID int64) (model.Prediction, bool) {
	for _, p := range predictions {
		if p.PlantID == plantID {
			return p, true
		}
	}
	return model.Prediction{}, false
}
