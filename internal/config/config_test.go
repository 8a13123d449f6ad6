package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
)

func TestDefaults(t *testing.T) {
	loader, err := NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatal(err)
	}
	cfg := loader.Snapshot()

	if cfg.RiskPerTradePct != 0.02 {
		t.Fatalf("risk_per_trade_pct = %v, want 0.02", cfg.RiskPerTradePct)
	}
	if cfg.SectorLimitPct != 0.30 || cfg.SectorLimitStrongBullPct != 0.50 {
		t.Fatalf("sector limits = %v/%v, want 0.30/0.50", cfg.SectorLimitPct, cfg.SectorLimitStrongBullPct)
	}
	if cfg.DuplicateWindow != 10*time.Minute {
		t.Fatalf("duplicate_window = %v, want 10m", cfg.DuplicateWindow)
	}
	if cfg.MonitorInterval != 10*time.Second {
		t.Fatalf("monitor_interval = %v, want 10s", cfg.MonitorInterval)
	}
	if cfg.DailyBuyLimit != 3 || cfg.MaxOpenPositions != 10 {
		t.Fatalf("limits = %d/%d, want 3/10", cfg.DailyBuyLimit, cfg.MaxOpenPositions)
	}
	if cfg.DryRun {
		t.Fatal("dry_run defaults to true")
	}
}

func TestMaxHoldingDaysFor(t *testing.T) {
	loader, err := NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatal(err)
	}
	cfg := loader.Snapshot()

	if d := cfg.MaxHoldingDaysFor(types.RegimeBear); d != 5 {
		t.Fatalf("bear holding days = %d, want 5", d)
	}
	if d := cfg.MaxHoldingDaysFor(types.Regime("unknown")); d != 10 {
		t.Fatalf("unknown regime holding days = %d, want sideways default 10", d)
	}
}

func TestOverrideTakesEffectOnRefresh(t *testing.T) {
	loader, err := NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatal(err)
	}

	loader.SetOverride("risk_per_trade_pct", 0.05)
	if loader.Snapshot().RiskPerTradePct != 0.02 {
		t.Fatal("override applied before refresh")
	}

	cfg := loader.Refresh()
	if cfg.RiskPerTradePct != 0.05 {
		t.Fatalf("risk_per_trade_pct = %v after refresh, want 0.05", cfg.RiskPerTradePct)
	}
}

func TestConfigFileLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("risk_per_trade_pct: 0.01\ndaily_buy_limit: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader(zap.NewNop(), path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := loader.Snapshot()

	if cfg.RiskPerTradePct != 0.01 {
		t.Fatalf("risk_per_trade_pct = %v, want file value 0.01", cfg.RiskPerTradePct)
	}
	if cfg.DailyBuyLimit != 1 {
		t.Fatalf("daily_buy_limit = %d, want file value 1", cfg.DailyBuyLimit)
	}
	if cfg.ATRMultiplier != 2.0 {
		t.Fatalf("atr_multiplier = %v, want default 2.0 for unset keys", cfg.ATRMultiplier)
	}
}

func TestPresetSelection(t *testing.T) {
	loader, err := NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatal(err)
	}

	loader.SetOverride("preset", "defensive")
	cfg := loader.Refresh()
	if cfg.RiskPerTradePct != 0.01 {
		t.Fatalf("risk_per_trade_pct = %v with defensive preset, want 0.01", cfg.RiskPerTradePct)
	}
	if cfg.MaxPositionValuePct != 0.05 {
		t.Fatalf("max_position_value_pct = %v with defensive preset, want 0.05", cfg.MaxPositionValuePct)
	}

	// An unknown name is ignored and the resolved values stand.
	loader.SetOverride("preset", "no_such_preset")
	cfg = loader.Refresh()
	if cfg.RiskPerTradePct != 0.02 {
		t.Fatalf("risk_per_trade_pct = %v with unknown preset, want default 0.02", cfg.RiskPerTradePct)
	}
}

func TestPresetApply(t *testing.T) {
	loader, err := NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatal(err)
	}
	base := loader.Snapshot()

	defensive, ok := BuiltinPresets()["defensive"]
	if !ok {
		t.Fatal("defensive preset missing")
	}
	applied := defensive.Apply(base)
	if applied.RiskPerTradePct != 0.01 {
		t.Fatalf("risk_per_trade_pct = %v, want preset value 0.01", applied.RiskPerTradePct)
	}
	if base.RiskPerTradePct != 0.02 {
		t.Fatal("Apply mutated its input snapshot")
	}

	unknown := Preset{Name: "noop", Values: map[string]float64{"no_such_key": 1}}
	if got := unknown.Apply(base); got.RiskPerTradePct != base.RiskPerTradePct {
		t.Fatal("unknown key changed the snapshot")
	}
}
