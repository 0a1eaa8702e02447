package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

var (
	ErrSettingsNotFound  = errors.New("plant settings not found")
	ErrProfileNotFound   = errors.New("settings profile not found")
	ErrEventNotFound     = errors.New("watering event not found")
	ErrEventFinalized    = errors.New("watering event already finalized")
	ErrEventNotFinalized = errors.New("watering event not finalized")
)

// Store is the SQLite system of record.
type Store struct {
	db  *sql.DB
	now func() time.Time
	// predictionMaxAge bounds Predictions; 0 means no limit.
	predictionMaxAge time.Duration
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetPredictionMaxAge makes Predictions ignore rows older than d, so plants
// fall back to rule-based decisions once the model stops publishing.
func (s *Store) SetPredictionMaxAge(d time.Duration) {
	s.predictionMaxAge = d
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) StoreReading(ctx context.Context, r model.SensorReading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_data (plant_id, moisture, temperature, humidity, light_level, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.PlantID, r.Moisture, r.Temperature, r.Humidity, r.LightLevel, ts.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

// LatestReadings returns the newest reading of every plant, ordered by plant id.
func (s *Store) LatestReadings(ctx context.Context) ([]model.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.plant_id, d.moisture, d.temperature, d.humidity, d.light_level, d.timestamp
		FROM sensor_data d
		JOIN (SELECT plant_id, MAX(id) AS id FROM sensor_data GROUP BY plant_id) latest
			ON latest.id = d.id
		ORDER BY d.plant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	var out []model.SensorReading
	for rows.Next() {
		var r model.SensorReading
		var ts int64
		if err := rows.Scan(&r.PlantID, &r.Moisture, &r.Temperature, &r.Humidity, &r.LightLevel, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

const settingsColumns = `plant_id, moisture_threshold, light_threshold, watering_duration, lighting_duration,
	light_schedule_start, light_schedule_end, plant_type, ml_enabled, water_pump_active`

func scanSettings(row interface{ Scan(...any) error }) (model.PlantSettings, error) {
	var ps model.PlantSettings
	err := row.Scan(&ps.PlantID, &ps.MoistureThreshold, &ps.LightThreshold, &ps.WateringDuration,
		&ps.LightingDuration, &ps.LightScheduleStart, &ps.LightScheduleEnd, &ps.PlantType,
		&ps.MLEnabled, &ps.WaterPumpActive)
	return ps, err
}

// GetSettings reads the live row; ErrSettingsNotFound when the plant is new.
func (s *Store) GetSettings(ctx context.Context, plantID int64) (model.PlantSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM plant_settings WHERE plant_id = ?`, plantID)
	ps, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlantSettings{}, ErrSettingsNotFound
	}
	if err != nil {
		return model.PlantSettings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return ps, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]model.PlantSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+settingsColumns+` FROM plant_settings ORDER BY plant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var out []model.PlantSettings
	for rows.Next() {
		ps, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// UpsertSettings replaces the plant's row.
func (s *Store) UpsertSettings(ctx context.Context, ps model.PlantSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plant_settings (`+settingsColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plant_id) DO UPDATE SET
			moisture_threshold = excluded.moisture_threshold,
			light_threshold = excluded.light_threshold,
			watering_duration = excluded.watering_duration,
			lighting_duration = excluded.lighting_duration,
			light_schedule_start = excluded.light_schedule_start,
			light_schedule_end = excluded.light_schedule_end,
			plant_type = excluded.plant_type,
			ml_enabled = excluded.ml_enabled,
			water_pump_active = excluded.water_pump_active,
			updated_at = excluded.updated_at
	`, ps.PlantID, ps.MoistureThreshold, ps.LightThreshold, ps.WateringDuration, ps.LightingDuration,
		ps.LightScheduleStart, ps.LightScheduleEnd, ps.PlantType, ps.MLEnabled, ps.WaterPumpActive,
		s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, plantType string) (model.DefaultSettingsProfile, error) {
	var p model.DefaultSettingsProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT plant_type, moisture_threshold, light_threshold, watering_duration, lighting_duration,
			light_schedule_start, light_schedule_end, ml_enabled
		FROM default_plant_settings WHERE plant_type = ?
	`, strings.ToLower(plantType)).Scan(&p.PlantType, &p.MoistureThreshold, &p.LightThreshold,
		&p.WateringDuration, &p.LightingDuration, &p.LightScheduleStart, &p.LightScheduleEnd, &p.MLEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrProfileNotFound
	}
	if err != nil {
		return p, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// StartWateringEvent opens an event with only the before-moisture and returns its id.
func (s *Store) StartWateringEvent(ctx context.Context, plantID int64, moistureBefore float64, duration int, predictionID *int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watering_events (plant_id, watering_duration, moisture_before, timestamp, prediction_id)
		VALUES (?, ?, ?, ?, ?)
	`, plantID, duration, moistureBefore, s.now().UTC().UnixMilli(), predictionID)
	if err != nil {
		return 0, fmt.Errorf("failed to start watering event: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeWateringEvent sets moisture_after once. A second call returns
// ErrEventFinalized; an unknown id ErrEventNotFound.
func (s *Store) FinalizeWateringEvent(ctx context.Context, eventID int64, moistureAfter float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watering_events SET moisture_after = ?
		WHERE id = ? AND moisture_after IS NULL
	`, moistureAfter, eventID)
	if err != nil {
		return fmt.Errorf("failed to finalize watering event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize watering event: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetWateringEvent(ctx, eventID); err != nil {
		return err
	}
	return ErrEventFinalized
}

const eventColumns = `id, plant_id, watering_duration, moisture_before, moisture_after, timestamp, prediction_id`

func scanEvent(row interface{ Scan(...any) error }) (model.WateringEvent, error) {
	var (
		e     model.WateringEvent
		after sql.NullFloat64
		pred  sql.NullInt64
		ts    int64
	)
	if err := row.Scan(&e.ID, &e.PlantID, &e.WateringDuration, &e.MoistureBefore, &after, &ts, &pred); err != nil {
		return e, err
	}
	if after.Valid {
		v := after.Float64
		e.MoistureAfter = &v
	}
	if pred.Valid {
		v := pred.Int64
		e.PredictionID = &v
	}
	e.Timestamp = time.UnixMilli(ts).UTC()
	return e, nil
}

func (s *Store) GetWateringEvent(ctx context.Context, eventID int64) (model.WateringEvent, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM watering_events WHERE id = ?`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrEventNotFound
	}
	if err != nil {
		return e, fmt.Errorf("failed to get watering event: %w", err)
	}
	return e, nil
}

// ListWateringEvents returns the plant's events, newest first.
func (s *Store) ListWateringEvents(ctx context.Context, plantID int64, limit int) ([]model.WateringEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM watering_events
		WHERE plant_id = ? ORDER BY id DESC LIMIT ?
	`, plantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list watering events: %w", err)
	}
	defer rows.Close()

	var out []model.WateringEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watering event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordPrediction stores a prediction and returns its id.
func (s *Store) RecordPrediction(ctx context.Context, p model.Prediction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watering_predictions (plant_id, needs_water, needs_light, created_at)
		VALUES (?, ?, ?, ?)
	`, p.PlantID, p.NeedsWater, p.NeedsLight, s.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record prediction: %w", err)
	}
	return res.LastInsertId()
}

// Predictions returns the newest stored prediction of each requested plant
// that is within the max age. Plants without one are omitted.
func (s *Store) Predictions(ctx context.Context, plantIDs []int64) ([]model.Prediction, error) {
	var since int64
	if s.predictionMaxAge > 0 {
		since = s.now().Add(-s.predictionMaxAge).UTC().UnixMilli()
	}
	out := make([]model.Prediction, 0, len(plantIDs))
	for _, id := range plantIDs {
		var (
			p      = model.Prediction{PlantID: id}
			predID int64
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT id, needs_water, needs_light FROM watering_predictions
			WHERE plant_id = ? AND created_at >= ? ORDER BY id DESC LIMIT 1
		`, id, since).Scan(&predID, &p.NeedsWater, &p.NeedsLight)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get prediction: %w", err)
		}
		p.PredictionID = &predID
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) StoreFeedback(ctx context.Context, fb model.WateringFeedback) (int64, error) {
	var next *int64
	if fb.UserAdjustedNextWateringTime != nil {
		v := fb.UserAdjustedNextWateringTime.UTC().UnixMilli()
		next = &v
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watering_feedback (prediction_id, plant_id, user_adjusted_moisture_threshold,
			user_adjusted_watering_duration, user_adjusted_next_watering_time, user_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fb.PredictionID, fb.PlantID, fb.UserAdjustedMoistureThreshold, fb.UserAdjustedWateringDuration,
		next, fb.UserNotes, s.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to store feedback: %w", err)
	}
	return res.LastInsertId()
}

// ListFeedback returns the feedback recorded for a plant, oldest first.
func (s *Store) ListFeedback(ctx context.Context, plantID int64) ([]model.WateringFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, plant_id, user_adjusted_moisture_threshold,
			user_adjusted_watering_duration, user_adjusted_next_watering_time, user_notes
		FROM watering_feedback WHERE plant_id = ? ORDER BY id
	`, plantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []model.WateringFeedback
	for rows.Next() {
		var (
			fb        model.WateringFeedback
			threshold sql.NullFloat64
			duration  sql.NullInt64
			next      sql.NullInt64
			notes     sql.NullString
		)
		if err := rows.Scan(&fb.ID, &fb.PredictionID, &fb.PlantID, &threshold, &duration, &next, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if threshold.Valid {
			v := threshold.Float64
			fb.UserAdjustedMoistureThreshold = &v
		}
		if duration.Valid {
			v := int(duration.Int64)
			fb.UserAdjustedWateringDuration = &v
		}
		if next.Valid {
			v := time.UnixMilli(next.Int64).UTC()
			fb.UserAdjustedNextWateringTime = &v
		}
		fb.UserNotes = notes.String
		out = append(out, fb)
	}
	return out, rows.Err()
}
