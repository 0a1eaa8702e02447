package node_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/pkg/dedup"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

// NodeSimulator plays a set of garden nodes: it publishes one reading per
// plant on every tick and applies the decisions coming back on the control
// topic.
type NodeSimulator struct {
	plants      map[int64]*DataGenerator
	order       []int64
	sensorTopic string // contains "{plant}"
	qos         byte
	publisher   rabbitmq.IPublisher
	consumer    rabbitmq.IConsumer
	deduper     *dedup.Deduper
	now         func() time.Time
	logger      zerolog.Logger
}

func NewNodeSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, sensorTopic string, qos byte) *NodeSimulator {
	return &NodeSimulator{
		plants:      make(map[int64]*DataGenerator),
		sensorTopic: sensorTopic,
		qos:         qos,
		publisher:   publisher,
		consumer:    consumer,
		deduper:     dedup.New(2*time.Minute, 10000),
		now:         time.Now,
		logger:      log.With().Str("component", "node-simulator").Logger(),
	}
}

// AddPlant registers a simulated node. Call before Start.
func (s *NodeSimulator) AddPlant(plantID int64, gen *DataGenerator) {
	if _, ok := s.plants[plantID]; !ok {
		s.order = append(s.order, plantID)
	}
	s.plants[plantID] = gen
}

// Start listens for decisions and publishes readings every interval until
// ctx is done.
func (s *NodeSimulator) Start(ctx context.Context, interval time.Duration) {
	s.consumer.SetHandler(s.handleMessage)
	go s.consumer.ConsumeMessage(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.publisher.Close()
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick publishes one reading for every plant.
func (s *NodeSimulator) Tick() {
	now := s.now()
	for _, id := range s.order {
		r := s.plants[id].Next(id, now)
		payload, err := json.Marshal(r)
		if err != nil {
			s.logger.Error().Err(err).Int64("plant_id", id).Msg("Encode reading")
			continue
		}
		topic := rabbitmq.PlantTopic(s.sensorTopic, id)
		if err := s.publisher.PublishTo(topic, s.qos, false, payload); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("Publish reading")
			continue
		}
		s.logger.Debug().Int64("plant_id", id).Float64("moisture", r.Moisture).Float64("light", r.LightLevel).Msg("Reading published")
	}
}

func (s *NodeSimulator) handleMessage(_ string, msg mqtt.Message) error {
	// the same decision is legitimately repeated on every dry reading, so only
	// a DUP-flagged redelivery is compared against what was applied
	key := dedup.PayloadKey(msg.Topic(), msg.Payload())
	if msg.Duplicate() {
		if !s.deduper.ShouldProcess(key) {
			return nil
		}
	} else {
		s.deduper.Remember(key)
	}
	plantID, err := rabbitmq.PlantIDFromTopic(msg.Topic())
	if err != nil {
		return err
	}
	gen, ok := s.plants[plantID]
	if !ok {
		return nil
	}

	var decisions []model.AutomationDecision
	if err := json.Unmarshal(msg.Payload(), &decisions); err != nil {
		return fmt.Errorf("invalid decision payload: %w", err)
	}
	for _, d := range decisions {
		if d.PlantID != plantID {
			continue
		}
		gen.Apply(d)
		s.logger.Info().
			Int64("plant_id", plantID).
			Bool("pump", d.WaterPump.Active).
			Int("duration", d.WaterPump.Duration).
			Bool("light", d.GrowLight.Active).
			Msg("Decision applied")
	}
	return nil
}
