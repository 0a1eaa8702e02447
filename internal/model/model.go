package model

import (
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/messages"
)

// Aliases so services can import a single package.

type (
	SensorReading          = messages.SensorReading
	AutomationDecision     = messages.AutomationDecision
	PlantSettings          = entities.PlantSettings
	DefaultSettingsProfile = entities.DefaultSettingsProfile
	WateringEvent          = entities.WateringEvent
	WateringFeedback       = entities.WateringFeedback
	Prediction             = entities.Prediction
)
