package persistence

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

type Mirror interface {
	MirrorReading(ctx context.Context, r model.SensorReading) error
	MirrorWateringEvent(ctx context.Context, e model.WateringEvent) error
}

type Exporter interface {
	Export(ctx context.Context, e model.WateringEvent) error
}

// Gateway is the Store plus best-effort side channels. Only the Store decides
// success: mirror and export failures are logged and dropped.
type Gateway struct {
	*Store
	mirror   Mirror
	exporter Exporter
	logger   zerolog.Logger
}

// NewGateway wraps store. mirror and exporter may be nil.
func NewGateway(store *Store, mirror Mirror, exporter Exporter) *Gateway {
	return &Gateway{
		Store:    store,
		mirror:   mirror,
		exporter: exporter,
		logger:   log.With().Str("component", "gateway").Logger(),
	}
}

func (g *Gateway) StoreReading(ctx context.Context, r model.SensorReading) error {
	if err := g.Store.StoreReading(ctx, r); err != nil {
		return err
	}
	if g.mirror != nil {
		if err := g.mirror.MirrorReading(ctx, r); err != nil {
			g.logger.Debug().Err(err).Int64("plant_id", r.PlantID).Msg("Reading not mirrored")
		}
	}
	return nil
}

func (g *Gateway) FinalizeWateringEvent(ctx context.Context, eventID int64, moistureAfter float64) error {
	if err := g.Store.FinalizeWateringEvent(ctx, eventID, moistureAfter); err != nil {
		return err
	}
	if g.mirror == nil && g.exporter == nil {
		return nil
	}

	e, err := g.Store.GetWateringEvent(ctx, eventID)
	if err != nil {
		g.logger.Warn().Err(err).Int64("event_id", eventID).Msg("Finalized event unreadable, skipping mirror")
		return nil
	}
	if g.mirror != nil {
		if err := g.mirror.MirrorWateringEvent(ctx, e); err != nil {
			g.logger.Debug().Err(err).Int64("event_id", eventID).Msg("Watering event not mirrored")
		}
	}
	if g.exporter != nil {
		if err := g.exporter.Export(ctx, e); err != nil {
			g.logger.Warn().Err(err).Int64("event_id", eventID).Msg("Watering event not exported")
		}
	}
	return nil
}
