package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

// SettingsConfigurer applies operator overrides to a plant's settings.
type SettingsConfigurer interface {
	Configure(ctx context.Context, plantID int64, overrides map[string]any) (model.PlantSettings, error)
}

type api struct {
	store      *Store
	configurer SettingsConfigurer
	logger     zerolog.Logger
}

// NewHTTPMux exposes settings, readings, watering events, predictions and
// feedback. Callers mount health and metrics on the returned router.
func NewHTTPMux(store *Store, configurer SettingsConfigurer) *mux.Router {
	a := &api{store: store, configurer: configurer, logger: log.With().Str("component", "http").Logger()}

	r := mux.NewRouter()
	r.HandleFunc("/data/latest", a.latestReadings).Methods(http.MethodGet)
	r.HandleFunc("/plants", a.listSettings).Methods(http.MethodGet)
	r.HandleFunc("/plants/{id:[0-9]+}/settings", a.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/plants/{id:[0-9]+}/settings", a.configure).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/plants/{id:[0-9]+}/watering-events", a.wateringEvents).Methods(http.MethodGet)
	r.HandleFunc("/plants/{id:[0-9]+}/predictions", a.recordPrediction).Methods(http.MethodPost)
	r.HandleFunc("/plants/{id:[0-9]+}/feedback", a.storeFeedback).Methods(http.MethodPost)
	r.HandleFunc("/plants/{id:[0-9]+}/feedback", a.listFeedback).Methods(http.MethodGet)
	return r
}

func (a *api) latestReadings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := a.store.LatestReadings(ctx)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) listSettings(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListSettings(r.Context())
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.store.GetSettings(r.Context(), plantID(r))
	if errors.Is(err, ErrSettingsNotFound) {
		a.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) configure(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil || len(overrides) == 0 {
		a.fail(w, http.StatusBadRequest, errors.New("body must be a non-empty JSON object"))
		return
	}
	s, err := a.configurer.Configure(r.Context(), plantID(r), overrides)
	if err != nil {
		status := http.StatusInternalServerError
		var inv interface{ Invalid() bool }
		if errors.As(err, &inv) && inv.Invalid() {
			status = http.StatusBadRequest
		}
		a.fail(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) wateringEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.store.ListWateringEvents(r.Context(), plantID(r), limit)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) recordPrediction(w http.ResponseWriter, r *http.Request) {
	var p model.Prediction
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	p.PlantID = plantID(r)
	id, err := a.store.RecordPrediction(r.Context(), p)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	p.PredictionID = &id
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) storeFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.WateringFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if fb.PredictionID <= 0 {
		a.fail(w, http.StatusBadRequest, errors.New("prediction_id is required"))
		return
	}
	fb.PlantID = plantID(r)
	id, err := a.store.StoreFeedback(r.Context(), fb)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	fb.ID = id
	writeJSON(w, http.StatusCreated, fb)
}

func (a *api) listFeedback(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListFeedback(r.Context(), plantID(r))
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

// plantID reads {id}; the route pattern only matches digits.
func plantID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (a *api) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
