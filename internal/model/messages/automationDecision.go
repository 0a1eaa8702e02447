package messages

// AutomationDecision is published on garden/{plant}/control, always inside a
// one-element JSON array.
type AutomationDecision struct {
	PlantID   int64        `json:"plant_id"`
	WaterPump PumpCommand  `json:"water_pump"`
	GrowLight LightCommand `json:"grow_light"`
}

type PumpCommand struct {
	Active   bool `json:"active"`
	Duration int  `json:"duration"`
}

type LightCommand struct {
	Active bool `json:"active"`
}
