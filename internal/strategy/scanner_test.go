package strategy

import (
	"testing"

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

func newScanner() *Scanner {
	return NewScanner(zap.NewNop(), NewSelector())
}

func flatSeries(value float64, n int) *indicators.Series {
	s := &indicators.Series{
		Closes:  make([]float64, n),
		Highs:   make([]float64, n),
		Lows:    make([]float64, n),
		Volumes: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.Closes[i] = value
		s.Highs[i] = value + 1
		s.Lows[i] = value - 1
		s.Volumes[i] = 100
	}
	return s
}

func TestScanLowerBandSignal(t *testing.T) {
	cfg := defaultConfig(t)
	s := newScanner()

	series := flatSeries(100, 25)
	series.Closes[24] = 80 // Sharp drop through the lower band

	sig := s.Scan(ScanInput{
		Symbol: "AAPL",
		Series: series,
		Index:  flatSeries(100, 25),
		Regime: types.RegimeSideways,
	}, cfg)

	if sig == nil {
		t.Fatal("want a signal, got nil")
	}
	if sig.Strategy != types.StrategyMeanReversion || sig.Kind != types.SignalLowerBand {
		t.Fatalf("got %s/%s, want mean_reversion/lower_band", sig.Strategy, sig.Kind)
	}
	if sig.Score != 80 {
		t.Fatalf("score = %v, want 80", sig.Score)
	}
}

func TestScanRisingSeriesNoSignalInSideways(t *testing.T) {
	cfg := defaultConfig(t)
	s := newScanner()

	series := flatSeries(100, 25)
	for i := range series.Closes {
		series.Closes[i] = 100 + float64(i)*0.5
	}

	sig := s.Scan(ScanInput{
		Symbol: "AAPL",
		Series: series,
		Index:  flatSeries(100, 25),
		Regime: types.RegimeSideways,
	}, cfg)

	if sig != nil {
		t.Fatalf("want nil for a steady riser in sideways, got %s/%s", sig.Strategy, sig.Kind)
	}
}

func TestScanBearWithoutHintIsHalted(t *testing.T) {
	cfg := defaultConfig(t)
	s := newScanner()

	series := flatSeries(100, 25)
	series.Closes[24] = 70
	series.Volumes[24] = 300

	sig := s.Scan(ScanInput{
		Symbol: "AAPL",
		Series: series,
		Index:  flatSeries(100, 25),
		Regime: types.RegimeBear,
	}, cfg)

	if sig != nil {
		t.Fatalf("want nil in bear without a hint, got %s", sig.Kind)
	}
}

func TestScanSnipeDipRequiresHint(t *testing.T) {
	cfg := defaultConfig(t)
	s := newScanner()

	// Flat history with a capitulation bar: RSI near zero, close through the
	// lower band, triple the average volume.
	series := flatSeries(100, 25)
	series.Closes[24] = 70
	series.Volumes[24] = 300

	sig := s.Scan(ScanInput{
		Symbol:   "AAPL",
		Series:   series,
		Index:    flatSeries(100, 25),
		Regime:   types.RegimeBear,
		BearHint: "dip",
	}, cfg)

	if sig == nil {
		t.Fatal("want snipe dip signal, got nil")
	}
	if sig.Strategy != types.StrategySnipeDip || sig.Kind != types.SignalSnipeDip {
		t.Fatalf("got %s/%s, want bear_snipe_dip/snipe_dip", sig.Strategy, sig.Kind)
	}
	if sig.Score != 90 {
		t.Fatalf("score = %v, want 90", sig.Score)
	}
}

func TestScanTrendFollowingRecovery(t *testing.T) {
	cfg := defaultConfig(t)
	s := newScanner()

	// Decline into a sharp recovery that clears the prior 20-session high.
	series := flatSeries(100, 30)
	for i := 0; i < 26; i++ {
		series.Closes[i] = 110 - float64(i)
	}
	series.Closes[26] = 95
	series.Closes[27] = 100
	series.Closes[28] = 105
	series.Closes[29] = 112

	sig := s.Scan(ScanInput{
		Symbol: "AAPL",
		Series: series,
		Index:  flatSeries(100, 30),
		Regime: types.RegimeStrongBull,
	}, cfg)

	if sig == nil {
		t.Fatal("want a trend signal, got nil")
	}
	if sig.Strategy != types.StrategyTrendFollowing {
		t.Fatalf("strategy = %s, want trend_following", sig.Strategy)
	}
	if sig.Kind != types.SignalGoldenCross && sig.Kind != types.SignalHighBreakout {
		t.Fatalf("kind = %s, want a trend entry condition", sig.Kind)
	}
}

func TestActiveStrategiesOrder(t *testing.T) {
	sel := NewSelector()

	cases := []struct {
		regime types.Regime
		hint   string
		want   []types.StrategyID
	}{
		{types.RegimeStrongBull, "", []types.StrategyID{types.StrategyTrendFollowing, types.StrategyMeanReversion}},
		{types.RegimeBull, "", []types.StrategyID{types.StrategyMeanReversion, types.StrategyTrendFollowing}},
		{types.RegimeSideways, "", []types.StrategyID{types.StrategyMeanReversion}},
		{types.RegimeBear, "", nil},
		{types.RegimeBear, "dip-buy", []types.StrategyID{types.StrategySnipeDip}},
		{types.RegimeBear, "MOMENTUM", []types.StrategyID{types.StrategyMomentumBreakout}},
	}
	for _, tc := range cases {
		got := sel.ActiveStrategies(tc.regime, tc.hint)
		if len(got) != len(tc.want) {
			t.Errorf("%s/%q: got %v, want %v", tc.regime, tc.hint, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s/%q: got %v, want %v", tc.regime, tc.hint, got, tc.want)
				break
			}
		}
	}
}

func TestTranslateBearHint(t *testing.T) {
	if _, ok := TranslateBearHint("unknown"); ok {
		t.Fatal("unknown hint must not translate")
	}
	if id, ok := TranslateBearHint("Snipe-Dip"); !ok || id != types.StrategySnipeDip {
		t.Fatalf("got %s, %v", id, ok)
	}
}
