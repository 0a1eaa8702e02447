package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

// MessageWriter is the subset of *kafka.Writer used for export.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DatasetRecord is one finished watering event as exported for training.
type DatasetRecord struct {
	EventID          int64     `json:"event_id"`
	PlantID          int64     `json:"plant_id"`
	WateringDuration int       `json:"watering_duration"`
	MoistureBefore   float64   `json:"moisture_before"`
	MoistureAfter    float64   `json:"moisture_after"`
	MoistureDelta    float64   `json:"moisture_delta"`
	PredictionID     *int64    `json:"prediction_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// DatasetExporter publishes finalized watering events keyed by plant so each
// plant's history stays ordered within a partition.
type DatasetExporter struct {
	writer MessageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewDatasetExporter(w MessageWriter) *DatasetExporter {
	return &DatasetExporter{writer: w}
}

// Export writes e; events without an after-moisture are refused.
func (x *DatasetExporter) Export(ctx context.Context, e model.WateringEvent) error {
	if !e.Finalized() {
		return fmt.Errorf("event %d: %w", e.ID, ErrEventNotFinalized)
	}
	rec := DatasetRecord{
		EventID:          e.ID,
		PlantID:          e.PlantID,
		WateringDuration: e.WateringDuration,
		MoistureBefore:   e.MoistureBefore,
		MoistureAfter:    *e.MoistureAfter,
		MoistureDelta:    *e.MoistureAfter - e.MoistureBefore,
		PredictionID:     e.PredictionID,
		Timestamp:        e.Timestamp,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dataset record: %w", err)
	}
	msg := kafka.Message{Key: []byte(strconv.FormatInt(e.PlantID, 10)), Value: b, Time: time.Now()}
	if err := x.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("export watering event %d: %w", e.ID, err)
	}
	return nil
}

func (x *DatasetExporter) Close() error { return x.writer.Close() }
