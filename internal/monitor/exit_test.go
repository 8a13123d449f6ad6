package monitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/indicators"
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

func sidewaysRisk() types.RiskSetting {
	return types.RiskSetting{StopLossPct: -0.03, TargetProfitPct: 0.05, PositionSizeRatio: 0.5}
}

func newPosition(entry float64) *types.Position {
	price := decimal.NewFromFloat(entry)
	return &types.Position{
		Symbol:           "AAPL",
		Quantity:         100,
		OriginalQuantity: 100,
		AvgEntryPrice:    price,
		EntryAt:          time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EntryATR:         decimal.NewFromInt(2),
		HighWaterMark:    price,
	}
}

// shortSeries has too little history for RSI or the MA cross, isolating the
// price-level rules.
func shortSeries(price float64) *indicators.Series {
	return &indicators.Series{Closes: []float64{price}}
}

func overboughtSeries(last float64) *indicators.Series {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = last - float64(19-i)
	}
	return &indicators.Series{Closes: closes}
}

func evalAt(t *testing.T, pos *types.Position, price float64, series *indicators.Series) Evaluation {
	t.Helper()
	cfg := defaultConfig(t)
	now := pos.EntryAt.Add(24 * time.Hour)
	return Evaluate(pos, decimal.NewFromFloat(price), series, sidewaysRisk(), 0, now, cfg)
}

func TestEvaluateStopLoss(t *testing.T) {
	pos := newPosition(100)
	eval := evalAt(t, pos, 96, shortSeries(96))

	if eval.Action != ActionFull || eval.Trigger != TriggerStopLoss {
		t.Fatalf("got %s/%s, want full/stop_loss", eval.Action, eval.Trigger)
	}
	if f := eval.SellFraction(pos); f != 1.0 {
		t.Fatalf("sell fraction = %v, want 1.0", f)
	}
}

func TestEvaluateTargetProfit(t *testing.T) {
	pos := newPosition(100)
	eval := evalAt(t, pos, 106, shortSeries(106))

	if eval.Action != ActionFull || eval.Trigger != TriggerTargetProfit {
		t.Fatalf("got %s/%s, want full/target_profit", eval.Action, eval.Trigger)
	}
}

func TestEvaluateTargetProfitBlockedAfterPartial(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.3
	pos.Quantity = 70

	eval := evalAt(t, pos, 104.9, shortSeries(104.9))
	if eval.Action != ActionNone {
		t.Fatalf("got %s/%s, want none: target profit is disabled after a scale-out", eval.Action, eval.Trigger)
	}
}

func TestEvaluateRSITierDelta(t *testing.T) {
	// Overbought with 30% already sold: the tier-3 target is 80%, so the
	// incremental sale covers exactly the missing 50%.
	pos := newPosition(100)
	pos.SoldFraction = 0.3
	pos.Quantity = 70

	eval := evalAt(t, pos, 104, overboughtSeries(104))
	if eval.Action != ActionPartial {
		t.Fatalf("got %s/%s, want partial", eval.Action, eval.Trigger)
	}
	if eval.TargetFraction != 0.8 {
		t.Fatalf("target = %v, want 0.8", eval.TargetFraction)
	}
	if f := eval.SellFraction(pos); f != 0.5 {
		t.Fatalf("delta fraction = %v, want 0.5", f)
	}
}

func TestEvaluateRSITierAlreadySatisfied(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.85
	pos.Quantity = 15

	eval := evalAt(t, pos, 104, overboughtSeries(104))
	if eval.Action != ActionNone {
		t.Fatalf("got %s/%s, want none: cumulative target already met", eval.Action, eval.Trigger)
	}
}

func TestEvaluateTrailingStopActivatesAndFires(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.1 // Disables the target-profit rule
	pos.Quantity = 90

	// Run-up past entry + 2*ATR activates the trail at HWM - 1.5*ATR.
	eval := evalAt(t, pos, 110, shortSeries(110))
	if eval.Action != ActionNone {
		t.Fatalf("got %s/%s on the run-up, want none", eval.Action, eval.Trigger)
	}
	if pos.TrailingStop == nil {
		t.Fatal("trailing stop not activated")
	}
	if want := decimal.NewFromInt(107); !pos.TrailingStop.Equal(want) {
		t.Fatalf("trailing stop = %s, want 107", pos.TrailingStop)
	}
	if !pos.HighWaterMark.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("high-water mark = %s, want 110", pos.HighWaterMark)
	}

	eval = evalAt(t, pos, 106, shortSeries(106))
	if eval.Action != ActionFull || eval.Trigger != TriggerTrailingStop {
		t.Fatalf("got %s/%s, want full/trailing_stop", eval.Action, eval.Trigger)
	}
}

func TestEvaluateTrailingStopOnlyRatchetsUp(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.1
	pos.Quantity = 90

	evalAt(t, pos, 110, shortSeries(110))
	first := *pos.TrailingStop

	evalAt(t, pos, 108, shortSeries(108)) // Above the stop, below the peak
	if !pos.TrailingStop.Equal(first) {
		t.Fatalf("trailing stop moved down: %s -> %s", first, pos.TrailingStop)
	}
}

func TestEvaluateMaxHoldingDays(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.1
	pos.Quantity = 90
	cfg := defaultConfig(t)

	now := pos.EntryAt.Add(11 * 24 * time.Hour)
	eval := Evaluate(pos, decimal.NewFromFloat(100.5), shortSeries(100.5), sidewaysRisk(), 10, now, cfg)
	if eval.Action != ActionFull || eval.Trigger != TriggerMaxHolding {
		t.Fatalf("got %s/%s, want full/max_holding", eval.Action, eval.Trigger)
	}
}

func TestEvaluateDeathCrossNeedsPriorGain(t *testing.T) {
	cfg := defaultConfig(t)

	// 5-period MA drops below the 20-period MA on the final bar.
	closes := make([]float64, 21)
	for i := 0; i < 16; i++ {
		closes[i] = 100
	}
	closes[16], closes[17], closes[18], closes[19], closes[20] = 110, 110, 110, 110, 50
	series := &indicators.Series{Closes: closes}

	pos := newPosition(49)
	pos.SoldFraction = 0.5
	pos.Quantity = 50
	pos.HighWaterMark = decimal.NewFromInt(50)
	pos.EntryATR = decimal.Zero

	now := pos.EntryAt.Add(24 * time.Hour)
	eval := Evaluate(pos, decimal.NewFromInt(50), series, sidewaysRisk(), 0, now, cfg)
	if eval.Action != ActionFull || eval.Trigger != TriggerDeathCross {
		t.Fatalf("got %s/%s, want full/death_cross", eval.Action, eval.Trigger)
	}

	// Same cross without the prior gain must not fire.
	flat := newPosition(50)
	flat.SoldFraction = 0.5
	flat.Quantity = 50
	flat.EverUpPct = 0
	eval = Evaluate(flat, decimal.NewFromInt(50), series, sidewaysRisk(), 0, now, cfg)
	if eval.Trigger == TriggerDeathCross {
		t.Fatal("death cross fired without the minimum prior gain")
	}
}

func TestSoldFractionStaysMonotonic(t *testing.T) {
	pos := newPosition(100)
	pos.SoldFraction = 0.9
	pos.Quantity = 10

	eval := Evaluation{Action: ActionPartial, TargetFraction: 0.8}
	if f := eval.SellFraction(pos); f != 0 {
		t.Fatalf("delta = %v, want 0 when target below sold fraction", f)
	}

	eval = Evaluation{Action: ActionFull}
	if f := eval.SellFraction(pos); f != pos.RemainingFraction() {
		t.Fatalf("full delta = %v, want remaining %v", f, pos.RemainingFraction())
	}
}
