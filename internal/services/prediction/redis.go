// Package prediction reads model predictions written by an external ML service.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/garden_automation/internal/model"
)

// Client is the subset of *redis.Client used here.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSource reads one JSON prediction per plant at "<prefix><plant_id>".
type RedisSource struct {
	client Client
	prefix string
	logger zerolog.Logger
}

func NewRedisSource(client Client, prefix string) *RedisSource {
	return &RedisSource{
		client: client,
		prefix: prefix,
		logger: log.With().Str("component", "redis-predictions").Logger(),
	}
}

func (s *RedisSource) key(plantID int64) string {
	return s.prefix + strconv.FormatInt(plantID, 10)
}

// Predictions returns what is stored for the given plants. Missing keys and
// undecodable values are skipped.
func (s *RedisSource) Predictions(ctx context.Context, plantIDs []int64) ([]model.Prediction, error) {
	if len(plantIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(plantIDs))
	for i, id := range plantIDs {
		keys[i] = s.key(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions from Redis: %w", err)
	}

	out := make([]model.Prediction, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p model.Prediction
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn().Err(err).Str("key", keys[i]).Msg("Skipping undecodable prediction")
			continue
		}
		p.PlantID = plantIDs[i]
		out = append(out, p)
	}
	return out, nil
}

// Put stores p for its plant, expiring after ttl (0 keeps it).
func (s *RedisSource) Put(ctx context.Context, p model.Prediction, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.PlantID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store prediction in Redis: %w", err)
	}
	return nil
}
