package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
)

func newTestResolver(gw *fakeGateway) *Resolver {
	r := NewResolver(gw, time.UTC)
	r.now = func() time.Time { return testNow }
	return r
}

func TestResolveExistingIsUnchanged(t *testing.T) {
	gw := newFakeGateway()
	existing := model.PlantSettings{
		PlantID: 101, MoistureThreshold: 75, WateringDuration: 5,
		LightScheduleStart: "not a time", LightScheduleEnd: "2020-01-01 00:00:00", PlantType: "tropical",
	}
	gw.settings[101] = existing

	got, err := newTestResolver(gw).Resolve(context.Background(), 101, "herbs")
	require.NoError(t, err)
	assert.Equal(t, existing, got)
	assert.Equal(t, 0, gw.upserts)
}

func TestResolveFirstContact(t *testing.T) {
	tests := []struct {
		name      string
		plantType string
		want      model.PlantSettings
	}{
		{
			name:      "tropical",
			plantType: "tropical",
			want: model.PlantSettings{
				PlantID: 7, MoistureThreshold: 0.8, LightThreshold: 400, WateringDuration: 60, LightingDuration: 120,
				LightScheduleStart: "2024-06-01 08:00:00", LightScheduleEnd: "2024-06-01 18:00:00", PlantType: "tropical",
			},
		},
		{
			name:      "herbs mixed case",
			plantType: " Herbs ",
			want: model.PlantSettings{
				PlantID: 7, MoistureThreshold: 0.6, LightThreshold: 800, WateringDuration: 30, LightingDuration: 120,
				LightScheduleStart: "2024-06-01 06:00:00", LightScheduleEnd: "2024-06-01 18:00:00", PlantType: "herbs",
			},
		},
		{
			name:      "unknown type keeps its name with default values",
			plantType: " Cactus",
			want: model.PlantSettings{
				PlantID: 7, MoistureThreshold: 0.6, LightThreshold: 800, WateringDuration: 30, LightingDuration: 120,
				LightScheduleStart: "2024-06-01 08:00:00", LightScheduleEnd: "2024-06-01 18:00:00", PlantType: "cactus",
			},
		},
		{
			name:      "no type",
			plantType: "",
			want: model.PlantSettings{
				PlantID: 7, MoistureThreshold: 0.6, LightThreshold: 800, WateringDuration: 30, LightingDuration: 120,
				LightScheduleStart: "2024-06-01 08:00:00", LightScheduleEnd: "2024-06-01 18:00:00", PlantType: "default",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			got, err := newTestResolver(gw).Resolve(context.Background(), 7, tt.plantType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, gw.settings[7])
		})
	}
}

func TestCreateWithOverrides(t *testing.T) {
	gw := newFakeGateway()
	got, err := newTestResolver(gw).Create(context.Background(), 101, "herbs", map[string]any{
		"moisture_threshold": 75,
		"watering_duration":  5,
		"ml_enabled":         true,
	})
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.MoistureThreshold)
	assert.Equal(t, 5, got.WateringDuration)
	assert.True(t, got.MLEnabled)
	assert.Equal(t, 800.0, got.LightThreshold)
	assert.Equal(t, int64(101), got.PlantID)
}

func TestOverridesRejected(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown key", map[string]any{"colour": "green"}},
		{"plant id", map[string]any{"plant_id": 5}},
		{"wrong type", map[string]any{"watering_duration": "long"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			_, err := newTestResolver(gw).Create(context.Background(), 1, "", tt.overrides)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Empty(t, gw.settings)
		})
	}
}

func TestConfigure(t *testing.T) {
	gw := newFakeGateway()
	r := newTestResolver(gw)
	ctx := context.Background()

	created, err := r.Configure(ctx, 9, map[string]any{"plant_type": "succulents", "watering_duration": 20})
	require.NoError(t, err)
	assert.Equal(t, "succulents", created.PlantType)
	assert.Equal(t, 0.3, created.MoistureThreshold)
	assert.Equal(t, 20, created.WateringDuration)

	updated, err := r.Configure(ctx, 9, map[string]any{"moisture_threshold": 0.45})
	require.NoError(t, err)
	assert.Equal(t, 0.45, updated.MoistureThreshold)
	assert.Equal(t, 20, updated.WateringDuration)

	// the next resolve sees the change without any cache in between
	got, err := r.Resolve(ctx, 9, "")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = r.Configure(ctx, 9, map[string]any{"bogus": 1})
	assert.ErrorIs(t, err, ErrUnknownSetting)
}

func TestResolvePersistenceErrors(t *testing.T) {
	ctx := context.Background()

	gw := newFakeGateway()
	gw.getErr = assert.AnError
	_, err := newTestResolver(gw).Resolve(ctx, 1, "")
	assert.True(t, IsKind(err, KindPersistence))
	assert.ErrorIs(t, err, assert.AnError)

	gw = newFakeGateway()
	gw.upsertErr = assert.AnError
	_, err = newTestResolver(gw).Resolve(ctx, 1, "")
	assert.True(t, IsKind(err, KindPersistence))
}

func TestMissingDefaultProfileUsesBuiltin(t *testing.T) {
	gw := newFakeGateway()
	gw.profiles = map[string]model.DefaultSettingsProfile{}

	got, err := newTestResolver(gw).Resolve(context.Background(), 1, "herbs")
	require.NoError(t, err)
	assert.Equal(t, "herbs", got.PlantType)
	assert.Equal(t, 0.6, got.MoistureThreshold)

	got, err = newTestResolver(gw).Resolve(context.Background(), 2, "")
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultProfileName, got.PlantType)
}

func TestFirstContactDoesNotOverwriteConfigure(t *testing.T) {
	gw := newFakeGateway()
	r := newTestResolver(gw)
	ctx := context.Background()

	// an operator write lands between the first-contact miss and the create
	var configured model.PlantSettings
	gw.onMiss = func() {
		var err error
		configured, err = r.Configure(ctx, 5, map[string]any{"watering_duration": 99})
		require.NoError(t, err)
	}

	got, err := r.Resolve(ctx, 5, "herbs")
	require.NoError(t, err)
	assert.Equal(t, 99, got.WateringDuration)
	assert.Equal(t, configured, got)
	assert.Equal(t, 99, gw.settings[5].WateringDuration)
	assert.Equal(t, 1, gw.upserts)
}

func TestScheduleAnchoredInLocation(t *testing.T) {
	gw := newFakeGateway()
	r := NewResolver(gw, time.FixedZone("UTC+2", 2*60*60))
	r.now = func() time.Time { return time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC) }

	got, err := r.Resolve(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02 08:00:00", got.LightScheduleStart)
	assert.Equal(t, "2024-06-02 18:00:00", got.LightScheduleEnd)
}

func TestAnchorKeepsUnparseable(t *testing.T) {
	assert.Equal(t, "2024-06-01 07:05:00", anchor("2024-06-01", "07:05:00"))
	assert.Equal(t, "sunrise", anchor("2024-06-01", "sunrise"))
}
