package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/indicators"
	"github.com/stockpilot/engine/pkg/types"
)

const (
	rsiPeriod       = 14
	bollingerPeriod = 20
	bollingerK      = 2.0
	shortMAPeriod   = 5
	longMAPeriod    = 20
	breakoutPeriod  = 20
	volumePeriod    = 20
	strengthLag     = 5
)

// Signal is a matched entry condition for one candidate.
type Signal struct {
	Strategy types.StrategyID
	Kind     types.SignalKind
	Score    float64
	Metadata map[string]string
}

// Scanner evaluates a single candidate's indicator series against the
// active strategy list, in order, and returns the first match.
type Scanner struct {
	logger   *zap.Logger
	selector *Selector
}

// NewScanner creates a scanner.
func NewScanner(logger *zap.Logger, selector *Selector) *Scanner {
	return &Scanner{logger: logger.Named("scanner"), selector: selector}
}

// ScanInput bundles one candidate's data for a scan.
type ScanInput struct {
	Symbol   string
	Series   *indicators.Series
	Index    *indicators.Series // Benchmark series, for relative strength
	Regime   types.Regime
	BearHint string
}

// Scan returns the first matching signal across the active strategies, or
// nil when nothing matches. A no-signal scan is not an error.
func (s *Scanner) Scan(in ScanInput, cfg config.Snapshot) *Signal {
	for _, id := range s.selector.ActiveStrategies(in.Regime, in.BearHint) {
		var sig *Signal
		switch id {
		case types.StrategyMeanReversion:
			sig = s.scanMeanReversion(in, cfg)
		case types.StrategyTrendFollowing:
			sig = s.scanTrendFollowing(in, cfg)
		case types.StrategySnipeDip:
			sig = s.scanSnipeDip(in, cfg)
		case types.StrategyMomentumBreakout:
			sig = s.scanMomentumBreakout(in, cfg)
		}
		if sig != nil {
			s.logger.Debug("signal matched",
				zap.String("symbol", in.Symbol),
				zap.String("strategy", string(sig.Strategy)),
				zap.String("kind", string(sig.Kind)),
			)
			return sig
		}
	}
	return nil
}

func isBullish(r types.Regime) bool {
	return r == types.RegimeBull || r == types.RegimeStrongBull
}

func (s *Scanner) scanMeanReversion(in ScanInput, cfg config.Snapshot) *Signal {
	price := in.Series.Last()
	_, _, lower, ok := indicators.Bollinger(in.Series.Closes, bollingerPeriod, bollingerK)
	if ok {
		if price <= lower {
			return &Signal{
				Strategy: types.StrategyMeanReversion,
				Kind:     types.SignalLowerBand,
				Score:    80,
				Metadata: map[string]string{"lower_band": fmt.Sprintf("%.2f", lower)},
			}
		}
		if isBullish(in.Regime) && lower > 0 && price <= lower*(1+cfg.NearBandPct/100) {
			return &Signal{
				Strategy: types.StrategyMeanReversion,
				Kind:     types.SignalNearBand,
				Score:    70,
				Metadata: map[string]string{"lower_band": fmt.Sprintf("%.2f", lower)},
			}
		}
	}

	rsi, ok := indicators.RSI(in.Series.Closes, rsiPeriod)
	if !ok {
		return nil
	}
	threshold := cfg.RSIOversold
	if isBullish(in.Regime) {
		threshold = cfg.RSIOversoldBull
	}
	if rsi <= threshold {
		return &Signal{
			Strategy: types.StrategyMeanReversion,
			Kind:     types.SignalRSIOversold,
			Score:    65,
			Metadata: map[string]string{"rsi": fmt.Sprintf("%.1f", rsi)},
		}
	}
	return nil
}

func (s *Scanner) scanTrendFollowing(in ScanInput, cfg config.Snapshot) *Signal {
	closes := in.Series.Closes
	shortMA := indicators.SMASeries(closes, shortMAPeriod)
	longMA := indicators.SMASeries(closes, longMAPeriod)
	n := len(closes)

	if n >= longMAPeriod+1 {
		cur, prev := n-1, n-2
		if shortMA[cur] > longMA[cur] && shortMA[prev] <= longMA[prev] {
			return &Signal{
				Strategy: types.StrategyTrendFollowing,
				Kind:     types.SignalGoldenCross,
				Score:    85,
				Metadata: map[string]string{
					"short_ma": fmt.Sprintf("%.2f", shortMA[cur]),
					"long_ma":  fmt.Sprintf("%.2f", longMA[cur]),
				},
			}
		}
	}

	if high, ok := indicators.RollingHigh(closes, breakoutPeriod); ok && in.Series.Last() > high {
		return &Signal{
			Strategy: types.StrategyTrendFollowing,
			Kind:     types.SignalHighBreakout,
			Score:    75,
			Metadata: map[string]string{"prior_high": fmt.Sprintf("%.2f", high)},
		}
	}

	if isBullish(in.Regime) && n >= longMAPeriod+cfg.MARisingLookback {
		lb := cfg.MARisingLookback
		cur, past := n-1, n-1-lb
		if shortMA[cur] > shortMA[past] && longMA[cur] > longMA[past] {
			return &Signal{
				Strategy: types.StrategyTrendFollowing,
				Kind:     types.SignalMARising,
				Score:    60,
			}
		}
	}
	return nil
}

func (s *Scanner) scanSnipeDip(in ScanInput, cfg config.Snapshot) *Signal {
	if in.Regime != types.RegimeBear {
		return nil
	}
	rsi, ok := indicators.RSI(in.Series.Closes, rsiPeriod)
	if !ok || rsi >= cfg.SnipeDipRSI {
		return nil
	}
	_, _, lower, ok := indicators.Bollinger(in.Series.Closes, bollingerPeriod, bollingerK)
	if !ok || in.Series.Last() > lower {
		return nil
	}
	volRatio, ok := indicators.VolumeRatio(in.Series.Volumes, volumePeriod)
	if !ok || volRatio < cfg.SnipeDipVolumeRatio {
		return nil
	}
	return &Signal{
		Strategy: types.StrategySnipeDip,
		Kind:     types.SignalSnipeDip,
		Score:    90,
		Metadata: map[string]string{
			"rsi":          fmt.Sprintf("%.1f", rsi),
			"volume_ratio": fmt.Sprintf("%.2f", volRatio),
		},
	}
}

func (s *Scanner) scanMomentumBreakout(in ScanInput, cfg config.Snapshot) *Signal {
	if in.Regime != types.RegimeBear {
		return nil
	}
	ma20, ok := indicators.SMA(in.Series.Closes, longMAPeriod)
	if !ok || in.Series.Last() <= ma20 {
		return nil
	}
	strength, ok := indicators.RelativeStrength(in.Series.Closes, in.Index.Closes, strengthLag)
	if !ok || strength <= 0 {
		return nil
	}
	volRatio, ok := indicators.VolumeRatio(in.Series.Volumes, volumePeriod)
	if !ok || volRatio < cfg.MomentumVolumeRatio {
		return nil
	}
	return &Signal{
		Strategy: types.StrategyMomentumBreakout,
		Kind:     types.SignalMomentumBreakout,
		Score:    85,
		Metadata: map[string]string{
			"rel_strength": fmt.Sprintf("%.2f", strength),
			"volume_ratio": fmt.Sprintf("%.2f", volRatio),
		},
	}
}
