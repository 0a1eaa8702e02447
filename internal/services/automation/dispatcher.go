package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/pkg/dedup"
	"github.com/LeonardoBeccarini/garden_automation/pkg/keylock"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

// ReadingStore is the reading half of the persistence gateway.
type ReadingStore interface {
	StoreReading(ctx context.Context, r model.SensorReading) error
}

// Gateway is everything the automation core needs from persistence.
type Gateway interface {
	ReadingStore
	SettingsStore
	EventStore
}

// PredictionSource supplies externally produced model predictions.
type PredictionSource interface {
	Predictions(ctx context.Context, plantIDs []int64) ([]model.Prediction, error)
}

// Publisher is the fire-and-forget side of the bus.
type Publisher interface {
	PublishAsync(topic string, message interface{})
}

type DispatcherOptions struct {
	// ControlTopic contains "{plant}"; defaults to rabbitmq.DefaultControlTopic.
	ControlTopic string
	// Predictions is optional; without it every decision is rule-based.
	Predictions PredictionSource
	Deduper     *dedup.Deduper
	Metrics     *Metrics
	// Timeout bounds the store calls made for one message.
	Timeout time.Duration
	Now     func() time.Time
}

// Dispatcher runs the per-reading pipeline: validate, store, resolve,
// decide, track, publish. Handle is the only place errors stop.
type Dispatcher struct {
	gateway   Gateway
	resolver  *Resolver
	engine    *Engine
	tracker   *Tracker
	publisher Publisher

	predictions  PredictionSource
	controlTopic string
	deduper      *dedup.Deduper
	metrics      *Metrics
	timeout      time.Duration
	now          func() time.Time

	locks  *keylock.Locks[int64]
	logger zerolog.Logger
}

func NewDispatcher(gw Gateway, resolver *Resolver, engine *Engine, tracker *Tracker, pub Publisher, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		gateway:      gw,
		resolver:     resolver,
		engine:       engine,
		tracker:      tracker,
		publisher:    pub,
		predictions:  opts.Predictions,
		controlTopic: opts.ControlTopic,
		deduper:      opts.Deduper,
		metrics:      opts.Metrics,
		timeout:      opts.Timeout,
		now:          opts.Now,
		locks:        keylock.New[int64](),
		logger:       log.With().Str("component", "dispatcher").Logger(),
	}
	if d.controlTopic == "" {
		d.controlTopic = rabbitmq.DefaultControlTopic
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Handle is a rabbitmq.Handler. It never returns an error: failures are
// logged, counted and dropped so the consumer keeps going.
func (d *Dispatcher) Handle(_ string, msg mqtt.Message) (err error) {
	start := time.Now()
	topic := msg.Topic()
	logger := d.logger.With().Str("topic", topic).Str("trace_id", uuid.NewString()).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Recovered while handling sensor message")
			d.metrics.dispatchError("panic")
			err = nil
		}
		d.metrics.observe(start)
	}()

	key, check := deliveryKey(msg)
	if d.deduper != nil {
		if check && !d.deduper.ShouldProcess(key) {
			logger.Debug().Msg("Duplicate delivery dropped")
			d.metrics.reading("duplicate")
			return nil
		}
		if !check {
			d.deduper.Remember(key)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if perr := d.Process(ctx, topic, msg.Payload()); perr != nil {
		kind := KindOf(perr)
		d.metrics.dispatchError(kind.String())
		switch kind {
		case KindValidation, KindDecode:
			logger.Warn().Err(perr).Msg("Sensor message rejected")
		default:
			logger.Error().Err(perr).Msg("Sensor message failed")
			// allow a redelivery to retry
			if d.deduper != nil {
				d.deduper.Forget(key)
			}
		}
	}
	return nil
}

// deliveryKey identifies one reading. A payload timestamp names the reading
// itself, so any repeat of it is dropped. Without one, identical bodies are
// distinct readings and only a delivery carrying the MQTT DUP flag is
// checked against earlier ones.
func deliveryKey(msg mqtt.Message) (key string, check bool) {
	var stamped struct {
		Timestamp string `json:"timestamp"`
	}
	if json.Unmarshal(msg.Payload(), &stamped) == nil && stamped.Timestamp != "" {
		return msg.Topic() + "|ts|" + stamped.Timestamp, true
	}
	return dedup.PayloadKey(msg.Topic(), msg.Payload()), msg.Duplicate()
}

// Process handles one raw sensor message and returns the classified error,
// if any.
func (d *Dispatcher) Process(ctx context.Context, topic string, body []byte) error {
	reading, err := DecodeReading(topic, body, d.now())
	if err != nil {
		d.metrics.reading("rejected")
		return err
	}
	d.metrics.reading("accepted")
	_, err = d.ProcessReading(ctx, reading)
	return err
}

// ProcessReading runs a validated reading through the pipeline and returns
// the decision that was published.
func (d *Dispatcher) ProcessReading(ctx context.Context, reading model.SensorReading) (model.AutomationDecision, error) {
	plantID := reading.PlantID
	unlock := d.locks.Lock(plantID)
	defer unlock()

	logger := d.logger.With().Int64("plant_id", plantID).Logger()

	if err := d.gateway.StoreReading(ctx, reading); err != nil {
		return model.AutomationDecision{}, newError(KindPersistence, "store reading", plantID, err)
	}

	settings, err := d.resolver.Resolve(ctx, plantID, reading.PlantType)
	if err != nil {
		return model.AutomationDecision{}, err
	}

	predictions := d.fetchPredictions(ctx, settings, logger)

	result := d.engine.Decide([]model.SensorReading{reading}, []model.PlantSettings{settings}, predictions)
	if len(result.Decisions) == 0 {
		return model.AutomationDecision{}, nil
	}
	decision := result.Decisions[0]

	var predictionID *int64
	if result.Strategy == StrategyModelBased {
		if p, ok := PredictionFor(predictions, plantID); ok {
			predictionID = p.PredictionID
		}
	}

	transition, trackErr := d.tracker.Update(ctx, reading, decision, predictionID)
	d.metrics.transition(transition)

	if err := d.publish(decision); err != nil {
		return decision, err
	}
	d.metrics.decision(result.Strategy)
	logger.Debug().
		Str("strategy", result.Strategy).
		Bool("water", decision.WaterPump.Active).
		Int("duration", decision.WaterPump.Duration).
		Bool("light", decision.GrowLight.Active).
		Str("transition", transition.String()).
		Msg("Decision published")

	return decision, trackErr
}

func (d *Dispatcher) fetchPredictions(ctx context.Context, s model.PlantSettings, logger zerolog.Logger) []model.Prediction {
	if d.predictions == nil || !s.MLEnabled {
		return nil
	}
	preds, err := d.predictions.Predictions(ctx, []int64{s.PlantID})
	if err != nil {
		logger.Warn().Err(err).Msg("Predictions unavailable, falling back to rules")
		return nil
	}
	return preds
}

// publish sends the decision as a one-element JSON array.
func (d *Dispatcher) publish(decision model.AutomationDecision) error {
	body, err := json.Marshal([]model.AutomationDecision{decision})
	if err != nil {
		return newError(KindPublish, "encode decision", decision.PlantID, err)
	}
	if d.publisher == nil {
		return newError(KindPublish, "publish decision", decision.PlantID, fmt.Errorf("no publisher"))
	}
	d.publisher.PublishAsync(rabbitmq.PlantTopic(d.controlTopic, decision.PlantID), body)
	return nil
}
