package automation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/persistence"
)

func pump(plantID int64, active bool, duration int) model.AutomationDecision {
	d := model.AutomationDecision{PlantID: plantID}
	d.WaterPump.Active = active
	if active {
		d.WaterPump.Duration = duration
	}
	return d
}

func reading(plantID int64, moisture float64) model.SensorReading {
	return model.SensorReading{PlantID: plantID, Moisture: moisture, LightLevel: 900}
}

func TestWateringLifecycle(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	ctx := context.Background()

	got, err := tr.Update(ctx, reading(101, 70), pump(101, true, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionStarted, got)
	st := tr.State(101)
	assert.True(t, st.AwaitingAfter)

	ev := gw.event(st.LastRecordID)
	assert.Equal(t, int64(101), ev.PlantID)
	assert.Equal(t, 70.0, ev.MoistureBefore)
	assert.Equal(t, 5, ev.WateringDuration)
	assert.False(t, ev.Finalized())

	got, err = tr.Update(ctx, reading(101, 85), pump(101, false, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionFinalized, got)
	assert.Equal(t, WateringState{}, tr.State(101))

	ev = gw.event(st.LastRecordID)
	require.True(t, ev.Finalized())
	assert.Equal(t, 85.0, *ev.MoistureAfter)
}

func TestIdleInactiveDoesNothing(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, "")
	got, err := tr.Update(context.Background(), reading(1, 90), pump(1, false, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionNone, got)
	assert.Empty(t, gw.events)
}

func TestStartKeepsPredictionID(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	id := int64(9)
	_, err := tr.Update(context.Background(), reading(1, 10), pump(1, true, 3), &id)
	require.NoError(t, err)

	ev := gw.event(tr.State(1).LastRecordID)
	require.NotNil(t, ev.PredictionID)
	assert.Equal(t, int64(9), *ev.PredictionID)
}

func TestReactivationRestart(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	ctx := context.Background()

	_, err := tr.Update(ctx, reading(1, 40), pump(1, true, 5), nil)
	require.NoError(t, err)
	first := tr.State(1).LastRecordID

	got, err := tr.Update(ctx, reading(1, 45), pump(1, true, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionRestarted, got)

	second := tr.State(1)
	assert.True(t, second.AwaitingAfter)
	assert.NotEqual(t, first, second.LastRecordID)
	assert.Equal(t, 45.0, *gw.event(first).MoistureAfter)
	assert.Equal(t, 45.0, gw.event(second.LastRecordID).MoistureBefore)
}

func TestReactivationKeep(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationKeep)
	ctx := context.Background()

	_, err := tr.Update(ctx, reading(1, 40), pump(1, true, 5), nil)
	require.NoError(t, err)
	before := tr.State(1)

	got, err := tr.Update(ctx, reading(1, 45), pump(1, true, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionKept, got)
	assert.Equal(t, before, tr.State(1))
	assert.Len(t, gw.events, 1)
	assert.False(t, gw.event(before.LastRecordID).Finalized())
}

func TestFailedStartStaysIdle(t *testing.T) {
	gw := newFakeGateway()
	gw.startErr = assert.AnError
	tr := NewTracker(gw, ReactivationRestart)

	got, err := tr.Update(context.Background(), reading(1, 10), pump(1, true, 5), nil)
	assert.Equal(t, TransitionNone, got)
	assert.True(t, IsKind(err, KindPersistence))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, WateringState{}, tr.State(1))
}

func TestFailedFinalizeKeepsAwaiting(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	ctx := context.Background()

	_, err := tr.Update(ctx, reading(1, 10), pump(1, true, 5), nil)
	require.NoError(t, err)
	before := tr.State(1)

	gw.finalizeErr = assert.AnError
	got, err := tr.Update(ctx, reading(1, 60), pump(1, false, 0), nil)
	assert.Equal(t, TransitionNone, got)
	assert.True(t, IsKind(err, KindPersistence))
	assert.Equal(t, before, tr.State(1))

	// the next reading retries and succeeds
	gw.finalizeErr = nil
	got, err = tr.Update(ctx, reading(1, 62), pump(1, false, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionFinalized, got)
	assert.Equal(t, 62.0, *gw.event(before.LastRecordID).MoistureAfter)
}

func TestFinalizeOfClosedEventReturnsToIdle(t *testing.T) {
	for _, sentinel := range []error{persistence.ErrEventFinalized, persistence.ErrEventNotFound} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			gw := newFakeGateway()
			tr := NewTracker(gw, ReactivationRestart)
			ctx := context.Background()

			_, err := tr.Update(ctx, reading(1, 10), pump(1, true, 5), nil)
			require.NoError(t, err)

			gw.finalizeErr = sentinel
			_, err = tr.Update(ctx, reading(1, 60), pump(1, false, 0), nil)
			assert.ErrorIs(t, err, sentinel)
			assert.Equal(t, WateringState{}, tr.State(1))
		})
	}
}

func TestRestartWithFailedStart(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	ctx := context.Background()

	_, err := tr.Update(ctx, reading(1, 10), pump(1, true, 5), nil)
	require.NoError(t, err)
	first := tr.State(1).LastRecordID

	gw.startErr = assert.AnError
	got, err := tr.Update(ctx, reading(1, 20), pump(1, true, 5), nil)
	assert.Equal(t, TransitionFinalized, got)
	assert.Error(t, err)
	assert.Equal(t, WateringState{}, tr.State(1))
	assert.True(t, gw.event(first).Finalized())
}

func TestTrackerPlantsAreIndependent(t *testing.T) {
	gw := newFakeGateway()
	tr := NewTracker(gw, ReactivationRestart)
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := tr.Update(ctx, reading(id, 10), pump(id, true, 5), nil)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for id := int64(1); id <= 20; id++ {
		st := tr.State(id)
		require.True(t, st.AwaitingAfter)
		assert.Equal(t, id, gw.event(st.LastRecordID).PlantID)
	}
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "started", TransitionStarted.String())
	assert.Equal(t, "kept", TransitionKept.String())
	assert.Equal(t, "none", Transition(99).String())
}
