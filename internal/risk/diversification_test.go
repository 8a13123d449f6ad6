package risk

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/pkg/types"
)

func defaultConfig(t *testing.T) config.Snapshot {
	t.Helper()
	loader, err := config.NewLoader(zap.NewNop(), "")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return loader.Snapshot()
}

func position(symbol, sector string, qty int64, price int64) *types.Position {
	return &types.Position{
		Symbol:        symbol,
		Sector:        sector,
		Quantity:      qty,
		AvgEntryPrice: decimal.NewFromInt(price),
	}
}

func TestCheckSectorLimitRejectsAndResizes(t *testing.T) {
	// Tech already holds 28% of a 10,000 book; a 5% candidate lands at 33%,
	// over the 30% limit. The resize must fit under limit minus margin.
	cfg := defaultConfig(t)
	checker := NewChecker(zap.NewNop())

	book := []*types.Position{position("AAPL", "tech", 280, 10)}
	req := CheckRequest{
		Symbol:      "MSFT",
		Sector:      "tech",
		Price:       decimal.NewFromInt(10),
		Quantity:    50,
		Book:        book,
		Prices:      map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(10)},
		TotalAssets: decimal.NewFromInt(10_000),
		Regime:      types.RegimeBull,
	}

	res := checker.Check(req, cfg)
	if res.Approved {
		t.Fatalf("approved at %.1f%% sector exposure, want rejection", res.SectorExposurePct)
	}
	if !strings.Contains(res.Reason, "sector") {
		t.Fatalf("reason = %q, want sector violation", res.Reason)
	}
	if res.ResizedQuantity != 19 {
		t.Fatalf("resized = %d, want 19 ((29.9%% - 28%%) / 10)", res.ResizedQuantity)
	}

	req.Quantity = res.ResizedQuantity
	recheck := checker.Check(req, cfg)
	if !recheck.Approved {
		t.Fatalf("resized quantity still rejected: %s", recheck.Reason)
	}
}

func TestCheckStockLimit(t *testing.T) {
	cfg := defaultConfig(t)
	checker := NewChecker(zap.NewNop())

	res := checker.Check(CheckRequest{
		Symbol:      "NVDA",
		Sector:      "tech",
		Price:       decimal.NewFromInt(10),
		Quantity:    110, // 11% of assets in one name
		TotalAssets: decimal.NewFromInt(10_000),
		Regime:      types.RegimeBull,
	}, cfg)

	if res.Approved {
		t.Fatalf("approved at %.1f%% single-name exposure, want rejection", res.StockExposurePct)
	}
	if !strings.Contains(res.Reason, "NVDA") {
		t.Fatalf("reason = %q, want instrument violation", res.Reason)
	}
}

func TestCheckStrongBullWidensLimits(t *testing.T) {
	cfg := defaultConfig(t)
	checker := NewChecker(zap.NewNop())

	req := CheckRequest{
		Symbol:      "NVDA",
		Sector:      "tech",
		Price:       decimal.NewFromInt(10),
		Quantity:    150, // 15%: over the 10% stock limit, under the 20% strong-bull one
		TotalAssets: decimal.NewFromInt(10_000),
		Regime:      types.RegimeBull,
	}
	if res := checker.Check(req, cfg); res.Approved {
		t.Fatal("want rejection under the normal stock limit")
	}

	req.Regime = types.RegimeStrongBull
	if res := checker.Check(req, cfg); !res.Approved {
		t.Fatalf("want approval under the strong-bull limit: %s", res.Reason)
	}
}

func TestCheckConcentrationTier(t *testing.T) {
	cfg := defaultConfig(t)
	checker := NewChecker(zap.NewNop())

	// 9% stock exposure leaves <5pp headroom to the 10% limit.
	res := checker.Check(CheckRequest{
		Symbol:      "AMZN",
		Sector:      "tech",
		Price:       decimal.NewFromInt(10),
		Quantity:    90,
		TotalAssets: decimal.NewFromInt(10_000),
		Regime:      types.RegimeBull,
	}, cfg)

	if !res.Approved {
		t.Fatalf("want approval: %s", res.Reason)
	}
	if res.Tier != types.ConcentrationHigh {
		t.Fatalf("tier = %s, want high", res.Tier)
	}
}

func TestResizeNeverExceedsLimit(t *testing.T) {
	cfg := defaultConfig(t)
	checker := NewChecker(zap.NewNop())

	for _, held := range []int64{0, 100, 250, 295} {
		book := []*types.Position{position("AAPL", "tech", held, 10)}
		req := CheckRequest{
			Symbol:      "MSFT",
			Sector:      "tech",
			Price:       decimal.NewFromInt(10),
			Quantity:    400,
			Book:        book,
			Prices:      map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(10)},
			TotalAssets: decimal.NewFromInt(10_000),
			Regime:      types.RegimeBull,
		}
		res := checker.Check(req, cfg)
		if res.Approved {
			continue
		}
		if res.ResizedQuantity == 0 {
			continue
		}
		req.Quantity = res.ResizedQuantity
		if recheck := checker.Check(req, cfg); !recheck.Approved {
			t.Fatalf("held=%d: resized quantity %d still violates: %s", held, res.ResizedQuantity, recheck.Reason)
		}
	}
}
