package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

// RequiredFields must be present in every sensor payload.
var RequiredFields = []string{"moisture", "temperature", "humidity", "light_level"}

// Validate turns a decoded payload into a SensorReading. All missing or
// non-numeric required fields are reported together in one KindValidation
// error. An absent or unparseable timestamp becomes now.
func Validate(plantID int64, payload map[string]any, now time.Time) (model.SensorReading, error) {
	const op = "validate"

	var missing, invalid []string
	values := make(map[string]float64, len(RequiredFields))
	for _, f := range RequiredFields {
		raw, ok := payload[f]
		if !ok || raw == nil {
			missing = append(missing, f)
			continue
		}
		v, ok := toFloat(raw)
		if !ok {
			invalid = append(invalid, f)
			continue
		}
		values[f] = v
	}
	if len(missing) > 0 {
		return model.SensorReading{}, newError(KindValidation, op, plantID,
			fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		return model.SensorReading{}, newError(KindValidation, op, plantID,
			fmt.Errorf("%w: %s", ErrInvalidField, strings.Join(invalid, ", ")))
	}

	r := model.SensorReading{
		PlantID:     plantID,
		Moisture:    values["moisture"],
		Temperature: values["temperature"],
		Humidity:    values["humidity"],
		LightLevel:  values["light_level"],
		Timestamp:   parseTimestamp(payload["timestamp"], now),
	}
	if pt, ok := payload["plant_type"].(string); ok {
		r.PlantType = strings.TrimSpace(pt)
	}
	return r, nil
}

// DecodeReading parses a raw sensor message published on topic.
func DecodeReading(topic string, body []byte, now time.Time) (model.SensorReading, error) {
	plantID, err := rabbitmq.PlantIDFromTopic(topic)
	if err != nil {
		return model.SensorReading{}, newError(KindValidation, "decode", 0, fmt.Errorf("%w: %v", ErrInvalidPlantID, err))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return model.SensorReading{}, newError(KindDecode, "decode", plantID, err)
	}
	if payload == nil {
		return model.SensorReading{}, newError(KindDecode, "decode", plantID, fmt.Errorf("payload is not a JSON object"))
	}
	return Validate(plantID, payload, now)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseTimestamp(v any, now time.Time) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(entities.ScheduleLayout, s, now.Location()); err == nil {
		return t
	}
	return now
}
