// Package backtest replays daily history through the same decision pipeline
// the live engine runs: regime detection, signal scanning, sizing,
// diversification and the exit rules, against a paper gateway and an
// in-memory book. Signal generation is parallel and read-only; every order
// applies sequentially in simulated time order.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/gateway"
	"github.com/stockpilot/engine/internal/indicators"
	"github.com/stockpilot/engine/internal/metrics"
	"github.com/stockpilot/engine/internal/monitor"
	"github.com/stockpilot/engine/internal/regime"
	"github.com/stockpilot/engine/internal/store"
	"github.com/stockpilot/engine/internal/strategy"
	"github.com/stockpilot/engine/internal/trader"
	"github.com/stockpilot/engine/internal/workers"
	"github.com/stockpilot/engine/pkg/types"
)

// Input is one backtest request. All bar series must share the index's
// trading calendar: Bars[symbol][i] and IndexBars[i] are the same session.
type Input struct {
	Bars         map[string][]types.OHLCV
	IndexBars    []types.OHLCV
	Sectors      map[string]string
	BearHints    map[string]string
	StartingCash decimal.Decimal
	// WarmupDays are skipped at the start so indicators have history.
	WarmupDays int
}

// EquityPoint is one end-of-day mark of total account value.
type EquityPoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// Result is the full outcome of a run.
type Result struct {
	EquityCurve []EquityPoint          `json:"equityCurve"`
	Trades      []*types.TradeLogEntry `json:"trades"`
	Summary     Summary                `json:"summary"`
}

// Simulator replays history through the engine pipeline.
type Simulator struct {
	logger *zap.Logger
	cfg    config.Snapshot
	pool   *workers.Pool
}

// New creates a simulator. The pool is shared; a nil pool gets a private one.
func New(logger *zap.Logger, cfg config.Snapshot, pool *workers.Pool) *Simulator {
	return &Simulator{logger: logger.Named("backtest"), cfg: cfg, pool: pool}
}

// Run executes the simulation and returns the equity curve, the trade log in
// the live format and the performance summary.
func (s *Simulator) Run(ctx context.Context, in Input) (*Result, error) {
	if len(in.IndexBars) == 0 {
		return nil, fmt.Errorf("backtest: no index bars")
	}
	for sym, bars := range in.Bars {
		if len(bars) != len(in.IndexBars) {
			return nil, fmt.Errorf("backtest: %s has %d bars, index has %d", sym, len(bars), len(in.IndexBars))
		}
	}
	warmup := in.WarmupDays
	if warmup <= 0 {
		warmup = 25
	}
	if warmup >= len(in.IndexBars) {
		return nil, fmt.Errorf("backtest: warmup %d exceeds %d sessions", warmup, len(in.IndexBars))
	}

	pool := s.pool
	if pool == nil {
		pool = workers.NewPool(s.logger, s.cfg.ScanWorkers)
		defer pool.Stop()
	}

	sim := newSession(s.logger, s.cfg, in)

	indexCloses := make([]float64, len(in.IndexBars))
	for i, b := range in.IndexBars {
		indexCloses[i] = b.Close.InexactFloat64()
	}

	for d := warmup; d < len(in.IndexBars); d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim.runDay(ctx, pool, d, indexCloses)
	}

	trades, _ := sim.store.RecentTrades(ctx, 0)
	result := &Result{
		EquityCurve: sim.curve,
		Trades:      trades,
		Summary:     summarize(in.StartingCash, sim.curve, trades),
	}
	s.logger.Info("backtest complete",
		zap.Int("sessions", len(sim.curve)),
		zap.Int("trades", len(trades)),
		zap.String("final_equity", result.Summary.FinalEquity.StringFixed(2)),
		zap.Float64("return_pct", result.Summary.TotalReturnPct),
		zap.Float64("max_drawdown_pct", result.Summary.MaxDrawdownPct),
	)
	return result, nil
}

// session holds the mutable state of one run.
type session struct {
	logger   *zap.Logger
	cfg      config.Snapshot
	in       Input
	symbols  []string
	store    *store.Memory
	gateway  *gateway.Paper
	cache    *cache.Memory
	detector *regime.Detector
	pinned   *regime.Static
	scanner  *strategy.Scanner
	trader   *trader.Trader
	clock    time.Time
	curve    []EquityPoint
}

func newSession(logger *zap.Logger, cfg config.Snapshot, in Input) *session {
	sim := &session{
		logger:   logger,
		cfg:      cfg,
		in:       in,
		store:    store.NewMemory(),
		gateway:  gateway.NewPaper(logger, in.StartingCash),
		cache:    cache.NewMemory(),
		detector: regime.NewDetector(logger, regime.DefaultDetectorConfig()),
		pinned:   &regime.Static{},
		scanner:  strategy.NewScanner(logger, strategy.NewSelector()),
	}
	for sym := range in.Bars {
		sim.symbols = append(sim.symbols, sym)
	}
	sort.Strings(sim.symbols)

	now := func() time.Time { return sim.clock }
	sim.store.SetClock(now)
	sim.trader = trader.New(trader.Deps{
		Logger:  logger,
		Config:  func() config.Snapshot { return cfg },
		Store:   sim.store,
		Gateway: sim.gateway,
		Cache:   sim.cache,
		Regimes: sim.pinned,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Clock:   now,
	})
	return sim
}

// runDay replays one session: pin the regime off prior closes, then walk the
// synthetic intraday path slot by slot, exits first, then a fresh scan and
// buy attempt against the slot's price. The trader's daily-buy count caps
// how many of those attempts turn into orders.
func (sim *session) runDay(ctx context.Context, pool *workers.Pool, d int, indexCloses []float64) {
	date := sim.in.IndexBars[d].Timestamp
	sim.clock = sessionTime(date, 0, sim.cfg.IntradaySlots)

	sim.pinned.Snap = sim.detector.Classify(indexCloses[:d])

	slots := sim.cfg.IntradaySlots
	if slots < 4 {
		slots = 4
	}
	paths := make(map[string][]decimal.Decimal, len(sim.in.Bars))
	for sym, bars := range sim.in.Bars {
		paths[sym] = intradayPath(bars[d], slots)
	}

	for slot := 0; slot < slots; slot++ {
		sim.clock = sessionTime(date, slot, slots)
		for sym, path := range paths {
			sim.gateway.SetLastClose(sym, path[slot])
		}
		sim.applyExits(ctx, d, paths, slot)
		if candidates := sim.generateSignals(ctx, pool, d, paths, slot); len(candidates) > 0 {
			sim.trader.ExecuteBuy(ctx, candidates)
		}
	}

	sim.markToMarket(ctx, d, date)
}

// generateSignals runs the read-only scan phase over all instruments against
// the current slot's price. Each task writes only its own slot of results.
func (sim *session) generateSignals(ctx context.Context, pool *workers.Pool, d int, paths map[string][]decimal.Decimal, slot int) []types.Candidate {
	results := make([]*types.Candidate, len(sim.symbols))
	indexSeries := indicators.FromBars(sim.in.IndexBars[:d])

	batch := pool.NewBatch()
	for i, sym := range sim.symbols {
		i, sym := i, sym
		if err := batch.Go(func(taskCtx context.Context) {
			results[i] = sim.analyze(sym, d, indexSeries, paths[sym][slot])
		}); err != nil {
			break
		}
	}
	batch.Wait()

	candidates := make([]types.Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}

func (sim *session) analyze(sym string, d int, indexSeries *indicators.Series, price decimal.Decimal) *types.Candidate {
	bars := sim.in.Bars[sym][:d]
	if len(bars) == 0 {
		return nil
	}
	series := indicators.FromBars(bars).WithPrice(price.InexactFloat64())

	sig := sim.scanner.Scan(strategy.ScanInput{
		Symbol:   sym,
		Series:   series,
		Index:    indexSeries,
		Regime:   sim.pinned.Snap.Regime,
		BearHint: sim.in.BearHints[sym],
	}, sim.cfg)
	if sig == nil {
		return nil
	}

	atr := decimal.Zero
	if v, ok := indicators.ATR(series.Highs, series.Lows, series.Closes, 14); ok {
		atr = decimal.NewFromFloat(v)
	}

	return &types.Candidate{
		Symbol:   sym,
		Sector:   sim.in.Sectors[sym],
		Price:    price,
		ATR:      atr,
		Strategy: sig.Strategy,
		Signal:   sig.Kind,
		Score:    sig.Score,
		Metadata: sig.Metadata,
		BearHint: sim.in.BearHints[sym],
	}
}

// applyExits evaluates every open position at this slot's price.
func (sim *session) applyExits(ctx context.Context, d int, paths map[string][]decimal.Decimal, slot int) {
	book, err := sim.store.ActivePortfolio(ctx)
	if err != nil {
		return
	}
	snap := sim.pinned.Snap
	for _, pos := range book {
		path, ok := paths[pos.Symbol]
		if !ok {
			continue
		}
		price := path[slot]
		series := indicators.FromBars(sim.in.Bars[pos.Symbol][:d]).WithPrice(price.InexactFloat64())

		eval := monitor.Evaluate(pos, price, series, snap.Risk,
			sim.cfg.MaxHoldingDaysFor(snap.Regime), sim.clock, sim.cfg)
		if err := sim.store.UpsertPosition(ctx, pos); err != nil {
			continue
		}
		if eval.Action == monitor.ActionNone {
			continue
		}
		fraction := eval.SellFraction(pos)
		if fraction <= 0 {
			continue
		}
		sim.trader.ExecuteSell(ctx, trader.SellRequest{
			Symbol:   pos.Symbol,
			Fraction: fraction,
			Reason:   eval.Reason,
			Trigger:  string(eval.Trigger),
		})
	}
}

// markToMarket closes the session at the day's official closes and records
// the equity point.
func (sim *session) markToMarket(ctx context.Context, d int, date time.Time) {
	for sym, bars := range sim.in.Bars {
		sim.gateway.SetLastClose(sym, bars[d].Close)
	}
	cash, err := sim.gateway.CashBalance(ctx)
	if err != nil {
		return
	}
	equity := cash
	book, _ := sim.store.ActivePortfolio(ctx)
	for _, pos := range book {
		equity = equity.Add(sim.in.Bars[pos.Symbol][d].Close.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	sim.curve = append(sim.curve, EquityPoint{Date: date, Equity: equity})
}

// intradayPath synthesizes slot prices for one bar: open, down to the low,
// up to the high, ending at the close. The real path is unknowable from
// daily data; this ordering is deliberately pessimistic for stops.
func intradayPath(bar types.OHLCV, slots int) []decimal.Decimal {
	path := make([]decimal.Decimal, slots)
	seg := slots / 3
	rest := slots - 2*seg
	i := 0
	for j := 0; j < seg; j++ {
		path[i] = lerp(bar.Open, bar.Low, j, seg)
		i++
	}
	for j := 0; j < seg; j++ {
		path[i] = lerp(bar.Low, bar.High, j, seg)
		i++
	}
	for j := 0; j < rest; j++ {
		path[i] = lerp(bar.High, bar.Close, j, rest)
		i++
	}
	path[slots-1] = bar.Close
	return path
}

func lerp(from, to decimal.Decimal, step, steps int) decimal.Decimal {
	if steps <= 1 {
		return from
	}
	t := decimal.NewFromFloat(float64(step) / float64(steps-1))
	return from.Add(to.Sub(from).Mul(t))
}

// sessionTime spreads slot timestamps across a 09:00-15:00 session.
func sessionTime(date time.Time, slot, slots int) time.Time {
	open := time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, date.Location())
	if slots <= 1 {
		return open
	}
	span := 6 * time.Hour
	return open.Add(span * time.Duration(slot) / time.Duration(slots-1))
}
