// Package config provides the layered configuration surface for the engine.
//
// Resolution order is: in-process override > config file > environment >
// built-in default. Reads never consult the layers directly; Load resolves
// everything once into an immutable Snapshot that is injected into each
// component at construction. Refresh re-resolves and logs the change.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
)

// Snapshot is an immutable view of every tunable the engine uses.
// Components hold it by value; a refresh produces a new Snapshot.
type Snapshot struct {
	// Sizing
	RiskPerTradePct     float64 `mapstructure:"risk_per_trade_pct"`
	ATRMultiplier       float64 `mapstructure:"atr_multiplier"`
	ATRDefaultPct       float64 `mapstructure:"atr_default_pct"` // ATR fallback as fraction of price
	MinQuantity         int64   `mapstructure:"min_quantity"`
	MaxQuantity         int64   `mapstructure:"max_quantity"`
	MaxPositionValuePct float64 `mapstructure:"max_position_value_pct"`
	CashKeepPct         float64 `mapstructure:"cash_keep_pct"`
	SmartSkipFraction   float64 `mapstructure:"smart_skip_fraction"` // Min fraction of ATR target worth trading

	// Diversification
	SectorLimitPct           float64 `mapstructure:"sector_limit_pct"`
	SectorLimitStrongBullPct float64 `mapstructure:"sector_limit_strong_bull_pct"`
	StockLimitPct            float64 `mapstructure:"stock_limit_pct"`
	StockLimitStrongBullPct  float64 `mapstructure:"stock_limit_strong_bull_pct"`
	ResizeMarginPct          float64 `mapstructure:"resize_margin_pct"` // Safety margin in percentage points
	MinResizeFraction        float64 `mapstructure:"min_resize_fraction"`

	// Signals
	RSIOversold         float64 `mapstructure:"rsi_oversold"`
	RSIOversoldBull     float64 `mapstructure:"rsi_oversold_bull"`
	NearBandPct         float64 `mapstructure:"near_band_pct"`
	SnipeDipRSI         float64 `mapstructure:"snipe_dip_rsi"`
	SnipeDipVolumeRatio float64 `mapstructure:"snipe_dip_volume_ratio"`
	MomentumVolumeRatio float64 `mapstructure:"momentum_volume_ratio"`
	MARisingLookback    int     `mapstructure:"ma_rising_lookback"`

	// Exits
	TrailInitialMultiplier float64 `mapstructure:"trail_initial_multiplier"`
	TrailMultiplier        float64 `mapstructure:"trail_multiplier"`
	RSITier1               float64 `mapstructure:"rsi_tier1"`
	RSITier2               float64 `mapstructure:"rsi_tier2"`
	RSITier3               float64 `mapstructure:"rsi_tier3"`
	RSITier1Target         float64 `mapstructure:"rsi_tier1_target"`
	RSITier2Target         float64 `mapstructure:"rsi_tier2_target"`
	RSITier3Target         float64 `mapstructure:"rsi_tier3_target"`
	DeathCrossMinGainPct   float64 `mapstructure:"death_cross_min_gain_pct"`

	// Safety limits
	DailyBuyLimit    int           `mapstructure:"daily_buy_limit"`
	MaxOpenPositions int           `mapstructure:"max_open_positions"`
	DuplicateWindow  time.Duration `mapstructure:"duplicate_window"`

	// Loops
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	RegimeTTL       time.Duration `mapstructure:"regime_ttl"`
	IntradaySlots   int           `mapstructure:"intraday_slots"`
	ScanWorkers     int           `mapstructure:"scan_workers"`

	// Sentiment
	SentimentAlpha float64 `mapstructure:"sentiment_alpha"`

	// Modes
	DryRun bool `mapstructure:"dry_run"`

	// Per-regime maximum holding days.
	MaxHoldingDays map[types.Regime]int `mapstructure:"-"`
}

// MaxHoldingDaysFor returns the holding limit for a regime, defaulting to
// the sideways limit when the regime is unknown.
func (s Snapshot) MaxHoldingDaysFor(regime types.Regime) int {
	if d, ok := s.MaxHoldingDays[regime]; ok {
		return d
	}
	return s.MaxHoldingDays[types.RegimeSideways]
}

// Loader resolves the layered configuration into Snapshots.
type Loader struct {
	logger *zap.Logger

	mu        sync.RWMutex
	v         *viper.Viper
	overrides map[string]any
	current   Snapshot
}

// NewLoader creates a loader. configFile may be empty; environment variables
// use the ENGINE_ prefix with underscores (e.g. ENGINE_RISK_PER_TRADE_PCT).
func NewLoader(logger *zap.Logger, configFile string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	l := &Loader{
		logger:    logger.Named("config"),
		v:         v,
		overrides: make(map[string]any),
	}
	l.current = l.resolve()
	return l, nil
}

// SetOverride installs an in-process override for a key. It takes effect on
// the next Refresh.
func (l *Loader) SetOverride(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = value
}

// Snapshot returns the current immutable configuration.
func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Refresh re-resolves all layers and logs that a new snapshot is active.
func (l *Loader) Refresh() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current = l.resolve()
	l.logger.Info("configuration refreshed",
		zap.Float64("risk_per_trade_pct", l.current.RiskPerTradePct),
		zap.Float64("sector_limit_pct", l.current.SectorLimitPct),
		zap.Bool("dry_run", l.current.DryRun),
	)
	return l.current
}

func (l *Loader) resolve() Snapshot {
	for k, val := range l.overrides {
		l.v.Set(k, val)
	}

	s := Snapshot{
		RiskPerTradePct:     l.v.GetFloat64("risk_per_trade_pct"),
		ATRMultiplier:       l.v.GetFloat64("atr_multiplier"),
		ATRDefaultPct:       l.v.GetFloat64("atr_default_pct"),
		MinQuantity:         l.v.GetInt64("min_quantity"),
		MaxQuantity:         l.v.GetInt64("max_quantity"),
		MaxPositionValuePct: l.v.GetFloat64("max_position_value_pct"),
		CashKeepPct:         l.v.GetFloat64("cash_keep_pct"),
		SmartSkipFraction:   l.v.GetFloat64("smart_skip_fraction"),

		SectorLimitPct:           l.v.GetFloat64("sector_limit_pct"),
		SectorLimitStrongBullPct: l.v.GetFloat64("sector_limit_strong_bull_pct"),
		StockLimitPct:            l.v.GetFloat64("stock_limit_pct"),
		StockLimitStrongBullPct:  l.v.GetFloat64("stock_limit_strong_bull_pct"),
		ResizeMarginPct:          l.v.GetFloat64("resize_margin_pct"),
		MinResizeFraction:        l.v.GetFloat64("min_resize_fraction"),

		RSIOversold:         l.v.GetFloat64("rsi_oversold"),
		RSIOversoldBull:     l.v.GetFloat64("rsi_oversold_bull"),
		NearBandPct:         l.v.GetFloat64("near_band_pct"),
		SnipeDipRSI:         l.v.GetFloat64("snipe_dip_rsi"),
		SnipeDipVolumeRatio: l.v.GetFloat64("snipe_dip_volume_ratio"),
		MomentumVolumeRatio: l.v.GetFloat64("momentum_volume_ratio"),
		MARisingLookback:    l.v.GetInt("ma_rising_lookback"),

		TrailInitialMultiplier: l.v.GetFloat64("trail_initial_multiplier"),
		TrailMultiplier:        l.v.GetFloat64("trail_multiplier"),
		RSITier1:               l.v.GetFloat64("rsi_tier1"),
		RSITier2:               l.v.GetFloat64("rsi_tier2"),
		RSITier3:               l.v.GetFloat64("rsi_tier3"),
		RSITier1Target:         l.v.GetFloat64("rsi_tier1_target"),
		RSITier2Target:         l.v.GetFloat64("rsi_tier2_target"),
		RSITier3Target:         l.v.GetFloat64("rsi_tier3_target"),
		DeathCrossMinGainPct:   l.v.GetFloat64("death_cross_min_gain_pct"),

		DailyBuyLimit:    l.v.GetInt("daily_buy_limit"),
		MaxOpenPositions: l.v.GetInt("max_open_positions"),
		DuplicateWindow:  l.v.GetDuration("duplicate_window"),

		MonitorInterval: l.v.GetDuration("monitor_interval"),
		RegimeTTL:       l.v.GetDuration("regime_ttl"),
		IntradaySlots:   l.v.GetInt("intraday_slots"),
		ScanWorkers:     l.v.GetInt("scan_workers"),

		SentimentAlpha: l.v.GetFloat64("sentiment_alpha"),
		DryRun:         l.v.GetBool("dry_run"),

		MaxHoldingDays: map[types.Regime]int{
			types.RegimeStrongBull: l.v.GetInt("max_holding_days.strong_bull"),
			types.RegimeBull:       l.v.GetInt("max_holding_days.bull"),
			types.RegimeSideways:   l.v.GetInt("max_holding_days.sideways"),
			types.RegimeBear:       l.v.GetInt("max_holding_days.bear"),
		},
	}

	// A named preset layers its values over the resolved snapshot.
	if name := l.v.GetString("preset"); name != "" {
		if p, ok := BuiltinPresets()[name]; ok {
			s = p.Apply(s)
		} else {
			l.logger.Warn("unknown preset ignored", zap.String("preset", name))
		}
	}
	return s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("risk_per_trade_pct", 0.02)
	v.SetDefault("atr_multiplier", 2.0)
	v.SetDefault("atr_default_pct", 0.02)
	v.SetDefault("min_quantity", 1)
	v.SetDefault("max_quantity", 100000)
	v.SetDefault("max_position_value_pct", 0.10)
	v.SetDefault("cash_keep_pct", 0.10)
	v.SetDefault("smart_skip_fraction", 0.5)

	v.SetDefault("sector_limit_pct", 0.30)
	v.SetDefault("sector_limit_strong_bull_pct", 0.50)
	v.SetDefault("stock_limit_pct", 0.10)
	v.SetDefault("stock_limit_strong_bull_pct", 0.20)
	v.SetDefault("resize_margin_pct", 0.1)
	v.SetDefault("min_resize_fraction", 0.5)

	v.SetDefault("rsi_oversold", 30.0)
	v.SetDefault("rsi_oversold_bull", 40.0)
	v.SetDefault("near_band_pct", 2.0)
	v.SetDefault("snipe_dip_rsi", 30.0)
	v.SetDefault("snipe_dip_volume_ratio", 1.5)
	v.SetDefault("momentum_volume_ratio", 1.3)
	v.SetDefault("ma_rising_lookback", 3)

	v.SetDefault("trail_initial_multiplier", 2.0)
	v.SetDefault("trail_multiplier", 1.5)
	v.SetDefault("rsi_tier1", 70.0)
	v.SetDefault("rsi_tier2", 75.0)
	v.SetDefault("rsi_tier3", 80.0)
	v.SetDefault("rsi_tier1_target", 0.3)
	v.SetDefault("rsi_tier2_target", 0.5)
	v.SetDefault("rsi_tier3_target", 0.8)
	v.SetDefault("death_cross_min_gain_pct", 2.0)

	v.SetDefault("daily_buy_limit", 3)
	v.SetDefault("max_open_positions", 10)
	v.SetDefault("duplicate_window", 10*time.Minute)

	v.SetDefault("monitor_interval", 10*time.Second)
	v.SetDefault("regime_ttl", time.Hour)
	v.SetDefault("intraday_slots", 8)
	v.SetDefault("scan_workers", 8)

	v.SetDefault("sentiment_alpha", 0.3)
	v.SetDefault("dry_run", false)
	v.SetDefault("preset", "")

	v.SetDefault("max_holding_days.strong_bull", 30)
	v.SetDefault("max_holding_days.bull", 20)
	v.SetDefault("max_holding_days.sideways", 10)
	v.SetDefault("max_holding_days.bear", 5)
}
