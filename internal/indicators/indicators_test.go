package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpilot/engine/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 5)
	if !ok || !almostEqual(v, 3) {
		t.Fatalf("SMA = %v, %v; want 3, true", v, ok)
	}
	if _, ok := SMA([]float64{1, 2}, 5); ok {
		t.Fatal("expected ok=false for short series")
	}
}

func TestSMASeriesAlignment(t *testing.T) {
	out := SMASeries([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(out[0]) {
		t.Fatalf("out[0] = %v, want NaN", out[0])
	}
	want := []float64{1.5, 2.5, 3.5}
	for i, w := range want {
		if !almostEqual(out[i+1], w) {
			t.Fatalf("out[%d] = %v, want %v", i+1, out[i+1], w)
		}
	}
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	v, ok := RSI(up, 14)
	if !ok || v != 100 {
		t.Fatalf("RSI all gains = %v, %v; want 100, true", v, ok)
	}

	down := make([]float64, 20)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	v, ok = RSI(down, 14)
	if !ok || v != 0 {
		t.Fatalf("RSI all losses = %v, %v; want 0, true", v, ok)
	}

	mixed := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94, 107, 93, 108}
	v, ok = RSI(mixed, 14)
	if !ok || v <= 0 || v >= 100 {
		t.Fatalf("RSI mixed = %v, want strictly inside (0, 100)", v)
	}
}

func TestBollingerSymmetry(t *testing.T) {
	closes := []float64{100, 102, 98, 101, 99, 103, 97, 100, 102, 98, 101, 99, 103, 97, 100, 102, 98, 101, 99, 100}
	mid, upper, lower, ok := Bollinger(closes, 20, 2.0)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !almostEqual(upper-mid, mid-lower) {
		t.Fatalf("bands not symmetric: mid=%v upper=%v lower=%v", mid, upper, lower)
	}
	if upper <= mid || lower >= mid {
		t.Fatalf("band ordering wrong: %v %v %v", lower, mid, upper)
	}
}

func TestRollingHighExcludesFinal(t *testing.T) {
	v, ok := RollingHigh([]float64{1, 2, 3, 4, 10}, 4)
	if !ok || v != 4 {
		t.Fatalf("RollingHigh = %v, %v; want 4 (final value excluded)", v, ok)
	}
}

func TestATRConstantRange(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 11, 9, 10
	}
	v, ok := ATR(highs, lows, closes, 14)
	if !ok || !almostEqual(v, 2) {
		t.Fatalf("ATR = %v, %v; want 2, true", v, ok)
	}
}

func TestPctChange(t *testing.T) {
	v, ok := PctChange([]float64{100, 110}, 1)
	if !ok || !almostEqual(v, 10) {
		t.Fatalf("PctChange = %v, %v; want 10, true", v, ok)
	}
}

func TestVolumeRatio(t *testing.T) {
	v, ok := VolumeRatio([]float64{100, 100, 100, 100}, 4)
	if !ok || !almostEqual(v, 1) {
		t.Fatalf("VolumeRatio = %v, %v; want 1, true", v, ok)
	}
}

func TestRelativeStrength(t *testing.T) {
	values := []float64{100, 100, 100, 100, 100, 110}
	bench := []float64{100, 100, 100, 100, 100, 105}
	v, ok := RelativeStrength(values, bench, 5)
	if !ok || !almostEqual(v, 5) {
		t.Fatalf("RelativeStrength = %v, %v; want 5, true", v, ok)
	}
}

func TestWithPriceDoesNotMutate(t *testing.T) {
	bars := []types.OHLCV{
		{Timestamp: time.Now(), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(1000)},
		{Timestamp: time.Now(), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(102), Low: decimal.NewFromInt(98), Close: decimal.NewFromInt(101), Volume: decimal.NewFromInt(1000)},
	}
	s := FromBars(bars)
	replaced := s.WithPrice(150)

	if s.Closes[1] != 101 {
		t.Fatalf("original mutated: %v", s.Closes[1])
	}
	if replaced.Closes[1] != 150 {
		t.Fatalf("replaced close = %v, want 150", replaced.Closes[1])
	}
	if replaced.Highs[1] != 150 {
		t.Fatalf("replaced high = %v, want 150 (price extends range)", replaced.Highs[1])
	}
}
