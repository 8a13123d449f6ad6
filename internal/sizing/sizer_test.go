package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
)

func defaultConfig(t *testing.T) config.Snapshot {
	t.Helper()
	loader, err := config.NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return loader.Snapshot()
}

func TestCalculateRiskBudget(t *testing.T) {
	// 100M assets at 2% risk with ATR 1000 and a 2x multiplier budgets
	// 2M / 2000 = 1000 shares before caps.
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())

	res := sizer.Calculate(Request{
		Symbol:        "AAPL",
		Price:         decimal.NewFromInt(1000),
		ATR:           decimal.NewFromInt(1000),
		TotalAssets:   decimal.NewFromInt(100_000_000),
		AvailableCash: decimal.NewFromInt(100_000_000),
		SizeRatio:     1.0,
	}, cfg)

	if res.Quantity != 1000 {
		t.Fatalf("quantity = %d, want 1000 (reason %q)", res.Quantity, res.Reason)
	}
	if !res.RiskAmount.Equal(decimal.NewFromInt(2_000_000)) {
		t.Fatalf("risk amount = %s, want 2000000", res.RiskAmount)
	}
	if !res.PositionValue.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("position value = %s, want 1000000", res.PositionValue)
	}
}

func TestCalculateValueCap(t *testing.T) {
	// At price 50k the ATR target is still 1000 shares (50M), but the 10%
	// position value cap allows only 10M, i.e. 200 shares.
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())

	res := sizer.Calculate(Request{
		Symbol:        "BRK",
		Price:         decimal.NewFromInt(50_000),
		ATR:           decimal.NewFromInt(1000),
		TotalAssets:   decimal.NewFromInt(100_000_000),
		AvailableCash: decimal.NewFromInt(100_000_000),
		SizeRatio:     1.0,
	}, cfg)

	if res.Quantity != 200 {
		t.Fatalf("quantity = %d, want 200 (reason %q)", res.Quantity, res.Reason)
	}
}

func TestCalculateSizeRatioScalesBudget(t *testing.T) {
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())
	req := Request{
		Symbol:        "MSFT",
		Price:         decimal.NewFromInt(1000),
		ATR:           decimal.NewFromInt(1000),
		TotalAssets:   decimal.NewFromInt(100_000_000),
		AvailableCash: decimal.NewFromInt(100_000_000),
		SizeRatio:     0.3,
	}

	res := sizer.Calculate(req, cfg)
	if res.Quantity != 300 {
		t.Fatalf("quantity = %d, want 300 at bear ratio", res.Quantity)
	}
}

func TestCalculateCashFloor(t *testing.T) {
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())

	res := sizer.Calculate(Request{
		Symbol:        "NVDA",
		Price:         decimal.NewFromInt(1000),
		ATR:           decimal.NewFromInt(1000),
		TotalAssets:   decimal.NewFromInt(100_000_000),
		AvailableCash: decimal.NewFromInt(5_000_000), // Below the 10M floor
		SizeRatio:     1.0,
	}, cfg)

	if res.Quantity != 0 || res.Reason == "" {
		t.Fatalf("got quantity %d reason %q, want zero with a reason", res.Quantity, res.Reason)
	}
}

func TestCalculateSmartSkip(t *testing.T) {
	// Spendable cash caps the order at 400 shares, under half the 1000-share
	// target; trading that remnant is not worth it.
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())

	res := sizer.Calculate(Request{
		Symbol:        "TSLA",
		Price:         decimal.NewFromInt(1000),
		ATR:           decimal.NewFromInt(1000),
		TotalAssets:   decimal.NewFromInt(100_000_000),
		AvailableCash: decimal.NewFromInt(10_400_000),
		SizeRatio:     1.0,
	}, cfg)

	if res.Quantity != 0 || res.Reason == "" {
		t.Fatalf("got quantity %d reason %q, want smart skip", res.Quantity, res.Reason)
	}
}

func TestCalculateZeroAlwaysHasReason(t *testing.T) {
	cfg := defaultConfig(t)
	sizer := NewSizer(zap.NewNop())

	cases := []Request{
		{Symbol: "A", Price: decimal.NewFromInt(100), TotalAssets: decimal.Zero, AvailableCash: decimal.NewFromInt(100)},
		{Symbol: "B", Price: decimal.Zero, TotalAssets: decimal.NewFromInt(1000), AvailableCash: decimal.NewFromInt(100)},
		{Symbol: "C", Price: decimal.NewFromInt(100), TotalAssets: decimal.NewFromInt(1000), AvailableCash: decimal.Zero},
	}
	for _, req := range cases {
		res := sizer.Calculate(req, cfg)
		if res.Quantity == 0 && res.Reason == "" {
			t.Errorf("%s: zero quantity without a reason", req.Symbol)
		}
	}
}
