package rabbitmq

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultSensorTopic  = "garden/+/sensors"
	DefaultControlTopic = "garden/{plant}/control"
)

// PlantIDFromTopic extracts the plant id from "garden/{id}/sensors".
func PlantIDFromTopic(topic string) (int64, error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("topic %q: expected prefix/{plant}/suffix", topic)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("topic %q: plant id %q is not an integer", topic, parts[1])
	}
	return id, nil
}

// PlantTopic fills "{plant}" in tmpl.
func PlantTopic(tmpl string, plantID int64) string {
	return strings.ReplaceAll(tmpl, "{plant}", strconv.FormatInt(plantID, 10))
}
