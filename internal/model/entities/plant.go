package entities

// ScheduleLayout is the absolute form of light_schedule_start/end.
const ScheduleLayout = "2006-01-02 15:04:05"

// TimeOfDayLayout is the form used by default profiles.
const TimeOfDayLayout = "15:04:05"

// PlantSettings is the live configuration of one plant. There is exactly one
// row per PlantID; writing settings for an existing plant replaces them.
type PlantSettings struct {
	PlantID            int64   `json:"plant_id"`
	MoistureThreshold  float64 `json:"moisture_threshold"`
	LightThreshold     float64 `json:"light_threshold"`
	WateringDuration   int     `json:"watering_duration"` // seconds of pump run
	LightingDuration   int     `json:"lighting_duration"` // minutes of grow light
	LightScheduleStart string  `json:"light_schedule_start"`
	LightScheduleEnd   string  `json:"light_schedule_end"`
	PlantType          string  `json:"plant_type"`
	MLEnabled          bool    `json:"ml_enabled"`
	// WaterPumpActive is the settings-level pump override read by the
	// model-based strategy.
	WaterPumpActive bool `json:"water_pump_active"`
}

// DefaultProfileName is the universal fallback profile.
const DefaultProfileName = "default"

// DefaultSettingsProfile holds the defaults used to bootstrap a plant of a given type.
// Schedule bounds are times of day (TimeOfDayLayout).
type DefaultSettingsProfile struct {
	PlantType          string  `json:"plant_type" yaml:"-"`
	MoistureThreshold  float64 `json:"moisture_threshold" yaml:"moisture_threshold"`
	LightThreshold     float64 `json:"light_threshold" yaml:"light_threshold"`
	WateringDuration   int     `json:"watering_duration" yaml:"watering_duration"`
	LightingDuration   int     `json:"lighting_duration" yaml:"lighting_duration"`
	LightScheduleStart string  `json:"light_schedule_start" yaml:"light_schedule_start"`
	LightScheduleEnd   string  `json:"light_schedule_end" yaml:"light_schedule_end"`
	MLEnabled          bool    `json:"ml_enabled" yaml:"ml_enabled"`
}

// BuiltinProfiles returns the stock profile table. Callers own the returned map.
func BuiltinProfiles() map[string]DefaultSettingsProfile {
	return map[string]DefaultSettingsProfile{
		"herbs":      {PlantType: "herbs", MoistureThreshold: 0.6, LightThreshold: 800, WateringDuration: 30, LightingDuration: 120, LightScheduleStart: "06:00:00", LightScheduleEnd: "18:00:00"},
		"vegetables": {PlantType: "vegetables", MoistureThreshold: 0.7, LightThreshold: 1000, WateringDuration: 45, LightingDuration: 180, LightScheduleStart: "08:00:00", LightScheduleEnd: "18:00:00"},
		"succulents": {PlantType: "succulents", MoistureThreshold: 0.3, LightThreshold: 600, WateringDuration: 15, LightingDuration: 240, LightScheduleStart: "08:00:00", LightScheduleEnd: "18:00:00"},
		"tropical":   {PlantType: "tropical", MoistureThreshold: 0.8, LightThreshold: 400, WateringDuration: 60, LightingDuration: 120, LightScheduleStart: "08:00:00", LightScheduleEnd: "18:00:00"},
		"default":    {PlantType: DefaultProfileName, MoistureThreshold: 0.6, LightThreshold: 800, WateringDuration: 30, LightingDuration: 120, LightScheduleStart: "08:00:00", LightScheduleEnd: "18:00:00"},
	}
}
