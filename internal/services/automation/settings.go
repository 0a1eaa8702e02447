package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
	"github.com/LeonardoBeccarini/garden_automation/internal/services/persistence"
	"github.com/LeonardoBeccarini/garden_automation/pkg/keylock"
)

// SettingsStore is the settings half of the persistence gateway.
// GetSettings returns persistence.ErrSettingsNotFound for an unknown plant and
// GetProfile returns persistence.ErrProfileNotFound for an unknown type.
type SettingsStore interface {
	GetSettings(ctx context.Context, plantID int64) (model.PlantSettings, error)
	UpsertSettings(ctx context.Context, s model.PlantSettings) error
	GetProfile(ctx context.Context, plantType string) (model.DefaultSettingsProfile, error)
}

// Resolver yields the settings for a plant, creating them from the plant
// type's default profile on first contact. It never caches: every call reads
// the store, so operator changes apply to the next decision.
type Resolver struct {
	store  SettingsStore
	loc    *time.Location
	now    func() time.Time
	locks  *keylock.Locks[int64]
	logger zerolog.Logger
}

func NewResolver(store SettingsStore, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		store:  store,
		loc:    loc,
		now:    time.Now,
		locks:  keylock.New[int64](),
		logger: log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the stored row unchanged, or creates one from the profile
// for plantType when the plant is new. Creation holds the plant lock shared
// with Configure, so an operator write is never replaced by defaults.
func (r *Resolver) Resolve(ctx context.Context, plantID int64, plantType string) (model.PlantSettings, error) {
	s, err := r.store.GetSettings(ctx, plantID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, persistence.ErrSettingsNotFound) {
		return model.PlantSettings{}, newError(KindPersistence, "get settings", plantID, err)
	}

	unlock := r.locks.Lock(plantID)
	defer unlock()

	s, err = r.store.GetSettings(ctx, plantID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, persistence.ErrSettingsNotFound) {
		return model.PlantSettings{}, newError(KindPersistence, "get settings", plantID, err)
	}
	return r.Create(ctx, plantID, plantType, nil)
}

// Create builds settings from the profile for plantType (falling back to
// "default" while keeping the declared type), anchors the schedule to today's
// date, applies overrides and upserts the result. Callers hold the plant lock.
func (r *Resolver) Create(ctx context.Context, plantID int64, plantType string, overrides map[string]any) (model.PlantSettings, error) {
	profile, err := r.profile(ctx, plantType)
	if err != nil {
		return model.PlantSettings{}, newError(KindPersistence, "get profile", plantID, err)
	}

	declared := profile.PlantType
	if name := normalizeType(plantType); name != "" {
		declared = name
	}

	day := r.now().In(r.loc).Format("2006-01-02")
	s := model.PlantSettings{
		PlantID:            plantID,
		MoistureThreshold:  profile.MoistureThreshold,
		LightThreshold:     profile.LightThreshold,
		WateringDuration:   profile.WateringDuration,
		LightingDuration:   profile.LightingDuration,
		LightScheduleStart: anchor(day, profile.LightScheduleStart),
		LightScheduleEnd:   anchor(day, profile.LightScheduleEnd),
		PlantType:          declared,
		MLEnabled:          profile.MLEnabled,
	}
	if s, err = ApplyOverrides(s, overrides); err != nil {
		return model.PlantSettings{}, err
	}

	if err := r.store.UpsertSettings(ctx, s); err != nil {
		return model.PlantSettings{}, newError(KindPersistence, "upsert settings", plantID, err)
	}
	r.logger.Info().Int64("plant_id", plantID).Str("profile", profile.PlantType).Msg("Created settings from profile")
	return s, nil
}

// Configure applies overrides on top of the plant's current settings.
func (r *Resolver) Configure(ctx context.Context, plantID int64, overrides map[string]any) (model.PlantSettings, error) {
	unlock := r.locks.Lock(plantID)
	defer unlock()

	current, err := r.store.GetSettings(ctx, plantID)
	if errors.Is(err, persistence.ErrSettingsNotFound) {
		pt, _ := overrides["plant_type"].(string)
		return r.Create(ctx, plantID, pt, overrides)
	}
	if err != nil {
		return model.PlantSettings{}, newError(KindPersistence, "get settings", plantID, err)
	}

	updated, err := ApplyOverrides(current, overrides)
	if err != nil {
		return model.PlantSettings{}, err
	}
	if err := r.store.UpsertSettings(ctx, updated); err != nil {
		return model.PlantSettings{}, newError(KindPersistence, "upsert settings", plantID, err)
	}
	r.logger.Info().Int64("plant_id", plantID).Strs("keys", sortedKeys(overrides)).Msg("Settings updated")
	return updated, nil
}

func (r *Resolver) profile(ctx context.Context, plantType string) (model.DefaultSettingsProfile, error) {
	name := normalizeType(plantType)
	if name == "" {
		name = entities.DefaultProfileName
	}
	p, err := r.store.GetProfile(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, persistence.ErrProfileNotFound) {
		return p, err
	}
	if name != entities.DefaultProfileName {
		r.logger.Debug().Str("plant_type", plantType).Msg("Unknown plant type, using default profile")
		p, err = r.store.GetProfile(ctx, entities.DefaultProfileName)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, persistence.ErrProfileNotFound) {
			return p, err
		}
	}
	r.logger.Warn().Msg("Default profile missing from store, using built-in")
	return entities.BuiltinProfiles()[entities.DefaultProfileName], nil
}

// ApplyOverrides overwrites fields of s key by key, keys being the JSON names
// of PlantSettings. plant_id and unknown keys are rejected.
func ApplyOverrides(s model.PlantSettings, overrides map[string]any) (model.PlantSettings, error) {
	const op = "apply overrides"
	if len(overrides) == 0 {
		return s, nil
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return s, newError(KindValidation, op, s.PlantID, err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, newError(KindValidation, op, s.PlantID, err)
	}

	for _, k := range sortedKeys(overrides) {
		if _, ok := fields[k]; !ok || k == "plant_id" {
			return s, newError(KindValidation, op, s.PlantID, fmt.Errorf("%w: %q", ErrUnknownSetting, k))
		}
		fields[k] = overrides[k]
	}

	raw, err = json.Marshal(fields)
	if err != nil {
		return s, newError(KindValidation, op, s.PlantID, err)
	}
	var out model.PlantSettings
	if err := json.Unmarshal(raw, &out); err != nil {
		return s, newError(KindValidation, op, s.PlantID, err)
	}
	return out, nil
}

// anchor joins a date and a time of day; values that are not HH:MM:SS are
// kept as they are.
func anchor(day, timeOfDay string) string {
	t, err := time.Parse(entities.TimeOfDayLayout, strings.TrimSpace(timeOfDay))
	if err != nil {
		return timeOfDay
	}
	return day + " " + t.Format(entities.TimeOfDayLayout)
}

func normalizeType(plantType string) string {
	return strings.ToLower(strings.TrimSpace(plantType))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
