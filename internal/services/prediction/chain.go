package prediction

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

type Source interface {
	Predictions(ctx context.Context, plantIDs []int64) ([]model.Prediction, error)
}

// Chain asks each source in turn and returns the first non-empty answer.
// It fails only when every source failed.
type Chain []Source

func (c Chain) Predictions(ctx context.Context, plantIDs []int64) ([]model.Prediction, error) {
	var lastErr error
	failed := 0
	for _, s := range c {
		preds, err := s.Predictions(ctx, plantIDs)
		if err != nil {
			log.Debug().Err(err).Msg("Prediction source failed, trying next")
			lastErr = err
			failed++
			continue
		}
		if len(preds) > 0 {
			return preds, nil
		}
	}
	if failed == len(c) && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
