package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	readings       *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	dispatchTime   prometheus.Histogram
	breakerState   *prometheus.GaugeVec
}

// NewMetrics registers the automation collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_readings_total",
			Help: "Sensor messages received, by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_decisions_total",
			Help: "Automation decisions published, by strategy.",
		}, []string{"strategy"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_watering_transitions_total",
			Help: "Watering lifecycle transitions.",
		}, []string{"transition"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_dispatch_errors_total",
			Help: "Errors absorbed by the dispatcher, by kind.",
		}, []string{"kind"}),
		dispatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "garden_dispatch_duration_seconds",
			Help:    "Time spent handling one sensor message.",
			Buckets: prometheus.DefBuckets,
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "garden_breaker_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	reg.MustRegister(
		m.readings,
		m.decisions,
		m.transitions,
		m.dispatchErrors,
		m.dispatchTime,
		m.breakerState,
	)
	return m
}

// The methods below accept a nil receiver so components can run without metrics.

func (m *Metrics) reading(outcome string) {
	if m != nil {
		m.readings.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) decision(strategy string) {
	if m != nil {
		m.decisions.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) transition(t Transition) {
	if m != nil && t != TransitionNone {
		m.transitions.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) dispatchError(kind string) {
	if m != nil {
		m.dispatchErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) observe(start time.Time) {
	if m != nil {
		m.dispatchTime.Observe(time.Since(start).Seconds())
	}
}

// SetBreakerState records a breaker transition; state follows gobreaker's
// numbering (0 closed, 1 half-open, 2 open).
func (m *Metrics) SetBreakerState(target string, state int) {
	if m != nil {
		m.breakerState.WithLabelValues(target).Set(float64(state))
	}
}
