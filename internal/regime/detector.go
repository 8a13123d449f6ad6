// Package regime classifies the current market state from a benchmark index
// price series and derives the per-regime risk settings.
package regime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/indicators"
	"github.com/stockpilot/engine/pkg/types"
)

// DetectorConfig configures the classifier.
type DetectorConfig struct {
	MAWindow         int     // Moving-average window (default 20)
	DegradedMAWindow int     // Fallback window when history is short (default 10)
	MinDataPoints    int     // Below this the detector fails closed (default 10)
	TightenFactor    float64 // Threshold multiplier in degraded mode (default 0.75)
}

// DefaultDetectorConfig returns the standard windows.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MAWindow:         20,
		DegradedMAWindow: 10,
		MinDataPoints:    10,
		TightenFactor:    0.75,
	}
}

// Detector is a pure classifier: identical input series always produce the
// same regime and scores.
type Detector struct {
	logger *zap.Logger
	config DetectorConfig
}

// NewDetector creates a detector.
func NewDetector(logger *zap.Logger, config DetectorConfig) *Detector {
	if config.MAWindow == 0 {
		config = DefaultDetectorConfig()
	}
	return &Detector{logger: logger.Named("regime"), config: config}
}

// Classify scores all four regimes from the index close series (oldest to
// newest, including the most recent price as the final element) and returns
// the winner. It fails closed to SIDEWAYS when fewer than MinDataPoints
// exist or the computation panics.
func (d *Detector) Classify(closes []float64) (snap *types.RegimeSnapshot) {
	snap = &types.RegimeSnapshot{
		Regime:     types.RegimeSideways,
		Scores:     map[types.Regime]float64{},
		ComputedAt: time.Now().UTC(),
	}
	snap.Risk = RiskSettingFor(snap.Regime)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("regime computation panicked, failing closed to sideways",
				zap.Any("panic", r))
			snap = &types.RegimeSnapshot{
				Regime:     types.RegimeSideways,
				Scores:     map[types.Regime]float64{},
				Risk:       RiskSettingFor(types.RegimeSideways),
				ComputedAt: time.Now().UTC(),
			}
		}
	}()

	if len(closes) < d.config.MinDataPoints {
		d.logger.Debug("insufficient index history, defaulting to sideways",
			zap.Int("points", len(closes)))
		return snap
	}

	window := d.config.MAWindow
	tighten := 1.0
	if len(closes) < d.config.MAWindow {
		window = d.config.DegradedMAWindow
		tighten = d.config.TightenFactor
	}

	ma, ok := indicators.SMA(closes, window)
	if !ok || ma == 0 {
		return snap
	}

	price := closes[len(closes)-1]
	maDist := (price - ma) / ma * 100
	r1, _ := indicators.PctChange(closes, 1)
	r5, _ := indicators.PctChange(closes, 5)

	// The four regimes are scored independently; each scorer runs
	// concurrently and writes only its own slot.
	in := scoreInput{maDist: maDist, r1: r1, r5: r5, tighten: tighten}
	scorers := []struct {
		regime types.Regime
		fn     func(scoreInput) float64
	}{
		{types.RegimeStrongBull, scoreStrongBull},
		{types.RegimeBull, scoreBull},
		{types.RegimeBear, scoreBear},
		{types.RegimeSideways, scoreSideways},
	}

	results := make([]float64, len(scorers))
	var wg sync.WaitGroup
	for i, s := range scorers {
		wg.Add(1)
		go func(i int, fn func(scoreInput) float64) {
			defer wg.Done()
			results[i] = fn(in)
		}(i, s.fn)
	}
	wg.Wait()

	best := types.RegimeSideways
	bestScore := -1.0
	scores := make(map[types.Regime]float64, len(scorers))
	for i, s := range scorers {
		scores[s.regime] = results[i]
	}
	// Tie-break follows the fixed enumeration order.
	for _, r := range types.OrderedRegimes {
		if scores[r] > bestScore {
			bestScore = scores[r]
			best = r
		}
	}

	return &types.RegimeSnapshot{
		Regime:     best,
		Scores:     scores,
		MADistance: maDist,
		Return1D:   r1,
		Return5D:   r5,
		Risk:       RiskSettingFor(best),
		ComputedAt: time.Now().UTC(),
	}
}

type scoreInput struct {
	maDist  float64 // % distance of price from MA
	r1      float64 // 1-day % return
	r5      float64 // 5-day % return
	tighten float64 // Threshold multiplier, <1 in degraded mode
}

// saturate maps v linearly onto [0, 1], saturating at full.
func saturate(v, full float64) float64 {
	if full <= 0 {
		return 0
	}
	if v <= 0 {
		return 0
	}
	if v >= full {
		return 1
	}
	return v / full
}

func scoreStrongBull(in scoreInput) float64 {
	return saturate(in.maDist, 3.0*in.tighten)*40 +
		saturate(in.r5, 5.0*in.tighten)*40 +
		saturate(in.r1, 1.0*in.tighten)*20
}

func scoreBull(in scoreInput) float64 {
	return saturate(in.maDist, 1.5*in.tighten)*40 +
		saturate(in.r5, 2.5*in.tighten)*40 +
		saturate(in.r1, 0.5*in.tighten)*20
}

func scoreBear(in scoreInput) float64 {
	return saturate(-in.maDist, 3.0*in.tighten)*40 +
		saturate(-in.r5, 5.0*in.tighten)*40 +
		saturate(-in.r1, 1.0*in.tighten)*20
}

func scoreSideways(in scoreInput) float64 {
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	return (1-saturate(abs(in.maDist), 2.0*in.tighten))*50 +
		(1-saturate(abs(in.r5), 3.0*in.tighten))*50
}

// RiskSettingFor maps a regime to its hand-tuned risk parameters.
func RiskSettingFor(r types.Regime) types.RiskSetting {
	switch r {
	case types.RegimeStrongBull:
		return types.RiskSetting{StopLossPct: -0.05, TargetProfitPct: 0.15, PositionSizeRatio: 1.0}
	case types.RegimeBull:
		return types.RiskSetting{StopLossPct: -0.04, TargetProfitPct: 0.10, PositionSizeRatio: 0.8}
	case types.RegimeBear:
		return types.RiskSetting{StopLossPct: -0.02, TargetProfitPct: 0.03, PositionSizeRatio: 0.3}
	default:
		return types.RiskSetting{StopLossPct: -0.03, TargetProfitPct: 0.05, PositionSizeRatio: 0.5}
	}
}
