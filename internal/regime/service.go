package regime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/metrics"
	"github.com/stockpilot/engine/pkg/types"
)

// Provider supplies the current regime snapshot to downstream components.
type Provider interface {
	Current(ctx context.Context) (*types.RegimeSnapshot, error)
}

// IndexSource supplies the benchmark index close series, oldest to newest,
// with the most recent price as the final element.
type IndexSource interface {
	IndexCloses(ctx context.Context) ([]float64, error)
}

// Service is a read-through cached Provider. A miss or stale entry triggers
// recomputation; writes are last-writer-wins so concurrent processes may
// recompute the same window, which is tolerated.
type Service struct {
	logger   *zap.Logger
	detector *Detector
	cache    cache.Cache
	source   IndexSource
	ttl      time.Duration
	metrics  *metrics.Metrics
}

// NewService creates the cached regime provider. metrics may be nil.
func NewService(logger *zap.Logger, detector *Detector, c cache.Cache, source IndexSource, ttl time.Duration, m *metrics.Metrics) *Service {
	return &Service{
		logger:   logger.Named("regime-service"),
		detector: detector,
		cache:    c,
		source:   source,
		ttl:      ttl,
		metrics:  m,
	}
}

// Current returns the cached snapshot when fresh, otherwise recomputes from
// the index series and publishes the result. A failing index source defaults
// the regime to sideways for this cycle rather than failing the caller.
func (s *Service) Current(ctx context.Context) (*types.RegimeSnapshot, error) {
	snap, found, err := s.cache.RegimeSnapshot(ctx)
	if err != nil {
		s.logger.Warn("regime cache read failed, recomputing", zap.Error(err))
	}
	if found {
		return snap, nil
	}

	closes, err := s.source.IndexCloses(ctx)
	if err != nil {
		s.logger.Warn("index source unavailable, defaulting regime to sideways", zap.Error(err))
		fallback := s.detector.Classify(nil)
		return fallback, nil
	}

	snap = s.detector.Classify(closes)
	if err := s.cache.SetRegimeSnapshot(ctx, snap, s.ttl); err != nil {
		s.logger.Warn("regime cache write failed", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RegimeRefreshes.Inc()
	}
	s.logger.Info("regime refreshed",
		zap.String("regime", string(snap.Regime)),
		zap.Float64("ma_distance", snap.MADistance),
		zap.Float64("return_5d", snap.Return5D),
	)
	return snap, nil
}

// Static is a Provider that always returns a fixed snapshot. The backtester
// uses it to pin the precomputed regime for a simulated day.
type Static struct{ Snap *types.RegimeSnapshot }

// Current returns the fixed snapshot.
func (s Static) Current(ctx context.Context) (*types.RegimeSnapshot, error) {
	return s.Snap, nil
}
