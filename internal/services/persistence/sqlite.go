package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

// Open opens (or creates) the SQLite database at path and ensures the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sensor_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plant_id INTEGER NOT NULL,
			moisture REAL NOT NULL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL,
			light_level REAL NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sensor_plant_ts ON sensor_data(plant_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sensor_data table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS plant_settings (
			plant_id INTEGER PRIMARY KEY,
			moisture_threshold REAL NOT NULL,
			light_threshold REAL NOT NULL,
			watering_duration INTEGER NOT NULL,
			lighting_duration INTEGER NOT NULL,
			light_schedule_start TEXT NOT NULL,
			light_schedule_end TEXT NOT NULL,
			plant_type TEXT NOT NULL,
			ml_enabled INTEGER NOT NULL DEFAULT 0,
			water_pump_active INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create plant_settings table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS default_plant_settings (
			plant_type TEXT PRIMARY KEY,
			moisture_threshold REAL NOT NULL,
			light_threshold REAL NOT NULL,
			watering_duration INTEGER NOT NULL,
			lighting_duration INTEGER NOT NULL,
			light_schedule_start TEXT NOT NULL,
			light_schedule_end TEXT NOT NULL,
			ml_enabled INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create default_plant_settings table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watering_predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plant_id INTEGER NOT NULL,
			needs_water INTEGER NOT NULL,
			needs_light INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_plant ON watering_predictions(plant_id, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create watering_predictions table: %w", err)
	}

	// moisture_after stays NULL until the event is finalized
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watering_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plant_id INTEGER NOT NULL,
			watering_duration INTEGER NOT NULL,
			moisture_before REAL NOT NULL,
			moisture_after REAL,
			timestamp INTEGER NOT NULL,
			prediction_id INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_watering_plant ON watering_events(plant_id, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create watering_events table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watering_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prediction_id INTEGER NOT NULL,
			plant_id INTEGER NOT NULL,
			user_adjusted_moisture_threshold REAL,
			user_adjusted_watering_duration INTEGER,
			user_adjusted_next_watering_time INTEGER,
			user_notes TEXT,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create watering_feedback table: %w", err)
	}
	return nil
}

// SeedProfiles upserts the configured profiles. Stored types that are not
// configured are left alone.
func SeedProfiles(ctx context.Context, db *sql.DB, profiles map[string]model.DefaultSettingsProfile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for name, p := range profiles {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO default_plant_settings (plant_type, moisture_threshold, light_threshold,
				watering_duration, lighting_duration, light_schedule_start, light_schedule_end, ml_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(plant_type) DO UPDATE SET
				moisture_threshold = excluded.moisture_threshold,
				light_threshold = excluded.light_threshold,
				watering_duration = excluded.watering_duration,
				lighting_duration = excluded.lighting_duration,
				light_schedule_start = excluded.light_schedule_start,
				light_schedule_end = excluded.light_schedule_end,
				ml_enabled = excluded.ml_enabled
		`, name, p.MoistureThreshold, p.LightThreshold, p.WateringDuration, p.LightingDuration,
			p.LightScheduleStart, p.LightScheduleEnd, p.MLEnabled)
		if err != nil {
			return fmt.Errorf("seed profile %q: %w", name, err)
		}
	}
	return tx.Commit()
}
