package config

// Preset is a named bundle of parameter overrides, immutable once loaded.
// The loader selects one through the "preset" config key and layers it on
// top of the resolved Snapshot.
type Preset struct {
	Name   string
	Values map[string]float64
}

// BuiltinPresets returns the hand-tuned presets shipped with the engine.
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"defensive": {
			Name: "defensive",
			Values: map[string]float64{
				"risk_per_trade_pct":     0.01,
				"max_position_value_pct": 0.05,
				"rsi_oversold":           25,
				"trail_multiplier":       1.0,
			},
		},
		"aggressive": {
			Name: "aggressive",
			Values: map[string]float64{
				"risk_per_trade_pct":     0.03,
				"max_position_value_pct": 0.15,
				"rsi_oversold_bull":      45,
				"trail_multiplier":       2.0,
			},
		},
	}
}

// Apply returns a copy of the snapshot with the preset's values layered on.
// Unknown keys are ignored; the input snapshot is never mutated.
func (p Preset) Apply(s Snapshot) Snapshot {
	out := s
	for k, v := range p.Values {
		switch k {
		case "risk_per_trade_pct":
			out.RiskPerTradePct = v
		case "atr_multiplier":
			out.ATRMultiplier = v
		case "max_position_value_pct":
			out.MaxPositionValuePct = v
		case "cash_keep_pct":
			out.CashKeepPct = v
		case "sector_limit_pct":
			out.SectorLimitPct = v
		case "stock_limit_pct":
			out.StockLimitPct = v
		case "rsi_oversold":
			out.RSIOversold = v
		case "rsi_oversold_bull":
			out.RSIOversoldBull = v
		case "trail_initial_multiplier":
			out.TrailInitialMultiplier = v
		case "trail_multiplier":
			out.TrailMultiplier = v
		}
	}
	return out
}
