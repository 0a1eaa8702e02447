package entities

import "time"

// WateringEvent brackets one pump activation with the moisture measured
// before it and the moisture reported by the next reading after it.
type WateringEvent struct {
	ID               int64     `json:"id"`
	PlantID          int64     `json:"plant_id"`
	WateringDuration int       `json:"watering_duration"`
	MoistureBefore   float64   `json:"moisture_before"`
	MoistureAfter    *float64  `json:"moisture_after"` // nil until finalized
	Timestamp        time.Time `json:"timestamp"`
	PredictionID     *int64    `json:"prediction_id"`
}

// Finalized reports whether the after-moisture has been recorded.
func (e WateringEvent) Finalized() bool { return e.MoistureAfter != nil }

// WateringFeedback is an operator correction attached to a model prediction.
type WateringFeedback struct {
	ID                            int64      `json:"id"`
	PredictionID                  int64      `json:"prediction_id"`
	PlantID                       int64      `json:"plant_id"`
	UserAdjustedMoistureThreshold *float64   `json:"user_adjusted_moisture_threshold,omitempty"`
	UserAdjustedWateringDuration  *int       `json:"user_adjusted_watering_duration,omitempty"`
	UserAdjustedNextWateringTime  *time.Time `json:"user_adjusted_next_watering_time,omitempty"`
	UserNotes                     string     `json:"user_notes,omitempty"`
}
