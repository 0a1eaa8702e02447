package persistence

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

// PointWriter is the subset of api.WriteAPIBlocking the mirror uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type MirrorOptions struct {
	Measurement string
	MaxFailures uint32
	OpenTimeout time.Duration
	// OnStateChange receives gobreaker state numbers (0 closed, 1 half, 2 open).
	OnStateChange func(name string, state int)
}

// InfluxMirror copies readings and finished watering events to InfluxDB.
// SQLite stays the system of record; the mirror sits behind a breaker so an
// unreachable Influx costs nothing per message once it trips.
type InfluxMirror struct {
	writer      PointWriter
	breaker     *gobreaker.CircuitBreaker
	measurement string
	logger      zerolog.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxMirror(w PointWriter, opts MirrorOptions) *InfluxMirror {
	if opts.Measurement == "" {
		opts.Measurement = "garden"
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	m := &InfluxMirror{
		writer:      w,
		measurement: sanitizeMeasurement(opts.Measurement),
		lastErr:     time.Now().Add(-24 * time.Hour),
		logger:      log.With().Str("component", "influx-mirror").Logger(),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Breaker state changed")
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, int(to))
			}
		},
	})
	return m
}

func (m *InfluxMirror) MirrorReading(ctx context.Context, r model.SensorReading) error {
	return m.write(ctx, ReadingToPoint(m.measurement, r))
}

func (m *InfluxMirror) MirrorWateringEvent(ctx context.Context, e model.WateringEvent) error {
	return m.write(ctx, WateringEventToPoint(m.measurement, e))
}

func (m *InfluxMirror) write(ctx context.Context, p *write.Point) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.writer.WritePoint(ctx, p)
	})
	if err != nil {
		m.mu.Lock()
		m.lastErr = time.Now()
		m.mu.Unlock()
	}
	return err
}

// LastErrorAge is how long ago the last write failed.
func (m *InfluxMirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

// ReadingToPoint maps a reading to "<measurement>_reading" tagged by plant.
func ReadingToPoint(measurement string, r model.SensorReading) *write.Point {
	tags := map[string]string{"plant_id": strconv.FormatInt(r.PlantID, 10)}
	if r.PlantType != "" {
		tags["plant_type"] = r.PlantType
	}
	fields := map[string]interface{}{
		"moisture":    r.Moisture,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"light_level": r.LightLevel,
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(measurement+"_reading", tags, fields, ts)
}

// WateringEventToPoint maps a watering event to "<measurement>_watering".
// moisture_delta is only set once the event is finalized.
func WateringEventToPoint(measurement string, e model.WateringEvent) *write.Point {
	tags := map[string]string{"plant_id": strconv.FormatInt(e.PlantID, 10)}
	if e.PredictionID != nil {
		tags["prediction_id"] = strconv.FormatInt(*e.PredictionID, 10)
	}
	fields := map[string]interface{}{
		"event_id":        e.ID,
		"duration":        int64(e.WateringDuration),
		"moisture_before": e.MoistureBefore,
	}
	if e.MoistureAfter != nil {
		fields["moisture_after"] = *e.MoistureAfter
		fields["moisture_delta"] = *e.MoistureAfter - e.MoistureBefore
	}
	return influxdb2.NewPoint(measurement+"_watering", tags, fields, e.Timestamp)
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
