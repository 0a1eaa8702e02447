package entities

// Prediction is what an external model publishes for a plant. Only the fields
// below are consumed; how they are produced is not our concern.
type Prediction struct {
	PlantID      int64  `json:"plant_id"`
	PredictionID *int64 `json:"prediction_id,omitempty"`
	NeedsLight   bool   `json:"needs_light"`
	NeedsWater   bool   `json:"needs_water"`
}
