package automation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/testutil"
	"github.com/LeonardoBeccarini/garden_automation/pkg/dedup"
	"github.com/LeonardoBeccarini/garden_automation/pkg/rabbitmq"
)

type fakePredictions struct {
	preds []model.Prediction
	err   error
	calls int
}

func (f *fakePredictions) Predictions(context.Context, []int64) ([]model.Prediction, error) {
	f.calls++
	return f.preds, f.err
}

type dispatcherFixture struct {
	gw      *fakeGateway
	client  *testutil.Client
	metrics *Metrics
	tracker *Tracker
	d       *Dispatcher
}

func newDispatcherFixture(t *testing.T, preds PredictionSource) *dispatcherFixture {
	t.Helper()
	gw := newFakeGateway()
	gw.settings[101] = daySettings(101, 75, 5)

	client := testutil.NewClient()
	metrics := NewMetrics(prometheus.NewRegistry())
	tracker := NewTracker(gw, ReactivationRestart)
	resolver := NewResolver(gw, time.UTC)
	resolver.now = fixedClock(testNow)

	d := NewDispatcher(gw, resolver, NewEngine(time.UTC, fixedClock(testNow)), tracker,
		rabbitmq.NewPublisher(client, "", 1), DispatcherOptions{
			Predictions: preds,
			Deduper:     dedup.New(time.Minute, 100),
			Metrics:     metrics,
			Now:         fixedClock(testNow),
		})
	return &dispatcherFixture{gw: gw, client: client, metrics: metrics, tracker: tracker, d: d}
}

func sensorMessage(plantID string, body string) *testutil.Message {
	return &testutil.Message{TopicName: "garden/" + plantID + "/sensors", Body: []byte(body)}
}

func decodePublished(t *testing.T, p testutil.Published) []model.AutomationDecision {
	t.Helper()
	var out []model.AutomationDecision
	require.NoError(t, json.Unmarshal(p.Payload, &out))
	return out
}

func TestDispatcherPublishesOneElementArray(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	require.NoError(t, f.d.Handle(rabbitmq.DefaultSensorTopic,
		sensorMessage("101", `{"moisture":70,"temperature":21,"humidity":40,"light_level":900}`)))

	pub := f.client.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "garden/101/control", pub[0].Topic)
	decisions := decodePublished(t, pub[0])
	require.Len(t, decisions, 1)
	assert.Equal(t, int64(101), decisions[0].PlantID)
	assert.True(t, decisions[0].WaterPump.Active)
	assert.Equal(t, 5, decisions[0].WaterPump.Duration)
	assert.False(t, decisions[0].GrowLight.Active)

	assert.Equal(t, 1, f.gw.readingCount())
	assert.True(t, f.tracker.State(101).AwaitingAfter)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.readings.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.decisions.WithLabelValues(StrategyRuleBased)))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.transitions.WithLabelValues("started")))
}

func TestDispatcherWateringCycle(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	require.NoError(t, f.d.Handle("", sensorMessage("101", `{"moisture":70,"temperature":21,"humidity":40,"light_level":900}`)))
	id := f.tracker.State(101).LastRecordID
	require.NoError(t, f.d.Handle("", sensorMessage("101", `{"moisture":85,"temperature":21,"humidity":40,"light_level":900}`)))

	assert.Equal(t, WateringState{}, f.tracker.State(101))
	ev := f.gw.event(id)
	require.True(t, ev.Finalized())
	assert.Equal(t, 70.0, ev.MoistureBefore)
	assert.Equal(t, 85.0, *ev.MoistureAfter)

	pub := f.client.Published()
	require.Len(t, pub, 2)
	assert.False(t, decodePublished(t, pub[1])[0].WaterPump.Active)
}

func TestDispatcherRejectsMissingField(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	require.NoError(t, f.d.Handle("", sensorMessage("101", `{"moisture":70,"temperature":21,"humidity":40}`)))

	assert.Equal(t, 0, f.gw.readingCount())
	assert.Empty(t, f.client.Published())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.readings.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.dispatchErrors.WithLabelValues(KindValidation.String())))
}

func TestDispatcherProcessErrors(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()

	err := f.d.Process(ctx, "garden/abc/sensors", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidPlantID)

	err = f.d.Process(ctx, "garden/1/sensors", []byte(`not json`))
	assert.True(t, IsKind(err, KindDecode))

	err = f.d.Process(ctx, "garden/1/sensors", []byte(`{"moisture":"wet","temperature":1,"humidity":1,"light_level":1}`))
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestDispatcherDropsRedeliveries(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	body := `{"moisture":90,"temperature":21,"humidity":40,"light_level":900}`

	require.NoError(t, f.d.Handle("", sensorMessage("101", body)))
	redelivery := sensorMessage("101", body)
	redelivery.Dup = true
	require.NoError(t, f.d.Handle("", redelivery))

	assert.Equal(t, 1, f.gw.readingCount())
	assert.Len(t, f.client.Published(), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.readings.WithLabelValues("duplicate")))
}

func TestDispatcherDropsRepeatedTimestamp(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	msg := sensorMessage("101", `{"moisture":90,"temperature":21,"humidity":40,"light_level":900,"timestamp":"2024-06-01T11:59:00Z"}`)

	require.NoError(t, f.d.Handle("", msg))
	require.NoError(t, f.d.Handle("", msg))

	assert.Equal(t, 1, f.gw.readingCount())
	assert.Len(t, f.client.Published(), 1)
}

func TestDispatcherRepeatedValuesAreNewReadings(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	dry := `{"moisture":70,"temperature":21,"humidity":40,"light_level":900}`
	wet := `{"moisture":85,"temperature":21,"humidity":40,"light_level":900}`

	require.NoError(t, f.d.Handle("", sensorMessage("101", dry)))
	first := f.tracker.State(101).LastRecordID
	require.NoError(t, f.d.Handle("", sensorMessage("101", wet)))
	require.NoError(t, f.d.Handle("", sensorMessage("101", dry)))

	assert.Equal(t, 3, f.gw.readingCount())
	assert.Len(t, f.client.Published(), 3)
	st := f.tracker.State(101)
	require.True(t, st.AwaitingAfter)
	assert.NotEqual(t, first, st.LastRecordID)
	assert.True(t, f.gw.event(first).Finalized())
	assert.Equal(t, 0.0, promtest.ToFloat64(f.metrics.readings.WithLabelValues("duplicate")))
}

func TestDispatcherStoreFailureAllowsRetry(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	msg := sensorMessage("101", `{"moisture":90,"temperature":21,"humidity":40,"light_level":900}`)

	f.gw.storeErr = assert.AnError
	require.NoError(t, f.d.Handle("", msg))
	assert.Empty(t, f.client.Published())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.dispatchErrors.WithLabelValues(KindPersistence.String())))

	f.gw.storeErr = nil
	require.NoError(t, f.d.Handle("", msg))
	assert.Equal(t, 1, f.gw.readingCount())
	assert.Len(t, f.client.Published(), 1)
}

func TestDispatcherRecoversPanic(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.gw.panicOnRead = true

	assert.NotPanics(t, func() {
		assert.NoError(t, f.d.Handle("", sensorMessage("101", `{"moisture":1,"temperature":1,"humidity":1,"light_level":1}`)))
	})
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.dispatchErrors.WithLabelValues("panic")))

	// the plant lock was released
	f.gw.panicOnRead = false
	_, err := f.d.ProcessReading(context.Background(), reading(101, 90))
	assert.NoError(t, err)
}

func TestDispatcherFirstContactCreatesSettings(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	require.NoError(t, f.d.Handle("", sensorMessage("7",
		`{"moisture":0.5,"temperature":21,"humidity":40,"light_level":100,"plant_type":"tropical"}`)))

	s := f.gw.settings[7]
	assert.Equal(t, "tropical", s.PlantType)
	decisions := decodePublished(t, f.client.Published()[0])
	assert.True(t, decisions[0].WaterPump.Active)
	assert.Equal(t, 60, decisions[0].WaterPump.Duration)
	assert.True(t, decisions[0].GrowLight.Active)
}

func TestDispatcherModelBased(t *testing.T) {
	predID := int64(77)
	preds := &fakePredictions{preds: []model.Prediction{{PlantID: 101, PredictionID: &predID, NeedsLight: true}}}
	f := newDispatcherFixture(t, preds)
	s := f.gw.settings[101]
	s.MLEnabled = true
	s.WaterPumpActive = true
	f.gw.settings[101] = s

	decision, err := f.d.ProcessReading(context.Background(), reading(101, 99))
	require.NoError(t, err)
	assert.True(t, decision.WaterPump.Active)
	assert.True(t, decision.GrowLight.Active)
	assert.Equal(t, 1, preds.calls)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.decisions.WithLabelValues(StrategyModelBased)))

	ev := f.gw.event(f.tracker.State(101).LastRecordID)
	require.NotNil(t, ev.PredictionID)
	assert.Equal(t, predID, *ev.PredictionID)
}

func TestDispatcherPredictionsSkippedWithoutML(t *testing.T) {
	preds := &fakePredictions{preds: []model.Prediction{{PlantID: 101, NeedsLight: true}}}
	f := newDispatcherFixture(t, preds)

	_, err := f.d.ProcessReading(context.Background(), reading(101, 99))
	require.NoError(t, err)
	assert.Equal(t, 0, preds.calls)
}

func TestDispatcherPredictionErrorFallsBackToRules(t *testing.T) {
	preds := &fakePredictions{err: assert.AnError}
	f := newDispatcherFixture(t, preds)
	s := f.gw.settings[101]
	s.MLEnabled = true
	f.gw.settings[101] = s

	decision, err := f.d.ProcessReading(context.Background(), reading(101, 70))
	require.NoError(t, err)
	assert.True(t, decision.WaterPump.Active)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.decisions.WithLabelValues(StrategyRuleBased)))
}

func TestDispatcherPublishesDespiteTrackerError(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.gw.startErr = assert.AnError

	decision, err := f.d.ProcessReading(context.Background(), reading(101, 70))
	assert.True(t, IsKind(err, KindPersistence))
	assert.True(t, decision.WaterPump.Active)
	assert.Len(t, f.client.Published(), 1)
}

func TestDispatcherWithoutPublisher(t *testing.T) {
	gw := newFakeGateway()
	d := NewDispatcher(gw, NewResolver(gw, time.UTC), NewEngine(time.UTC, nil), NewTracker(gw, ""), nil, DispatcherOptions{})

	_, err := d.ProcessReading(context.Background(), reading(1, 99))
	assert.True(t, IsKind(err, KindPublish))
}
