package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
)

const (
	keyRegime    = "engine:regime"
	keySentiment = "engine:sentiment:%s"
	keyFlag      = "engine:flag:%s"

	sentimentTTL = 24 * time.Hour
)

// Redis is the shared Cache backed by a Redis-wire-protocol store.
type Redis struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedis creates a cache on an existing client.
func NewRedis(logger *zap.Logger, client *redis.Client) *Redis {
	return &Redis{logger: logger.Named("cache"), client: client}
}

func (r *Redis) RegimeSnapshot(ctx context.Context) (*types.RegimeSnapshot, bool, error) {
	raw, err := r.client.Get(ctx, keyRegime).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get regime snapshot: %w", err)
	}
	var snap types.RegimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A corrupt entry reads as a miss so the caller recomputes.
		r.logger.Warn("dropping undecodable regime snapshot", zap.Error(err))
		return nil, false, nil
	}
	return &snap, true, nil
}

func (r *Redis) SetRegimeSnapshot(ctx context.Context, snap *types.RegimeSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode regime snapshot: %w", err)
	}
	if err := r.client.Set(ctx, keyRegime, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set regime snapshot: %w", err)
	}
	return nil
}

func (r *Redis) SentimentScore(ctx context.Context, symbol string) (float64, bool, error) {
	score, err := r.client.Get(ctx, fmt.Sprintf(keySentiment, symbol)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get sentiment %s: %w", symbol, err)
	}
	return score, true, nil
}

func (r *Redis) UpdateSentiment(ctx context.Context, symbol string, observation, alpha float64) (float64, error) {
	prev, found, err := r.SentimentScore(ctx, symbol)
	if err != nil {
		return 0, err
	}
	next := observation
	if found {
		next = alpha*observation + (1-alpha)*prev
	}
	key := fmt.Sprintf(keySentiment, symbol)
	if err := r.client.Set(ctx, key, next, sentimentTTL).Err(); err != nil {
		return 0, fmt.Errorf("set sentiment %s: %w", symbol, err)
	}
	return next, nil
}

func (r *Redis) GetFlag(ctx context.Context, flag Flag) (FlagState, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf(keyFlag, flag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return FlagState{}, nil
	}
	if err != nil {
		return FlagState{}, fmt.Errorf("get flag %s: %w", flag, err)
	}
	var state FlagState
	if err := json.Unmarshal(raw, &state); err != nil {
		return FlagState{}, nil
	}
	return state, nil
}

func (r *Redis) SetFlag(ctx context.Context, flag Flag, enabled bool, reason string) error {
	raw, err := json.Marshal(FlagState{Enabled: enabled, Reason: reason, SetAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, fmt.Sprintf(keyFlag, flag), raw, 0).Err(); err != nil {
		return fmt.Errorf("set flag %s: %w", flag, err)
	}
	return nil
}
