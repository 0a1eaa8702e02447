package messages

import "time"

// SensorReading is one validated report from a garden node.
type SensorReading struct {
	PlantID     int64     `json:"plant_id"`
	Moisture    float64   `json:"moisture"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	LightLevel  float64   `json:"light_level"`
	Timestamp   time.Time `json:"timestamp"`
	// PlantType is an optional hint sent by nodes; it only matters on first contact.
	PlantType string `json:"plant_type,omitempty"`
}
