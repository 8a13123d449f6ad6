// Package scan runs the live entry cycle: fan out per-symbol signal analysis
// over the watchlist, blend in cached sentiment, then hand the surviving
// candidates to the trader on a single goroutine.
package scan

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/gateway"
	"github.com/stockpilot/engine/internal/indicators"
	"github.com/stockpilot/engine/internal/metrics"
	"github.com/stockpilot/engine/internal/regime"
	"github.com/stockpilot/engine/internal/store"
	"github.com/stockpilot/engine/internal/strategy"
	"github.com/stockpilot/engine/internal/trader"
	"github.com/stockpilot/engine/internal/workers"
	"github.com/stockpilot/engine/pkg/types"
)

// historyBars is the daily lookback fetched per symbol. Enough for the
// 20-period indicators plus warmup.
const historyBars = 60

// sentimentWeight scales how much the cached sentiment EMA can move a
// signal score.
const sentimentWeight = 0.1

// Deps bundles the runner's collaborators.
type Deps struct {
	Logger      *zap.Logger
	Config      func() config.Snapshot
	Store       store.Store
	Gateway     gateway.Gateway
	Cache       cache.Cache
	Regimes     regime.Provider
	Scanner     *strategy.Scanner
	Pool        *workers.Pool
	Trader      *trader.Trader
	Metrics     *metrics.Metrics
	IndexSymbol string
}

// Runner executes scan cycles.
type Runner struct {
	logger      *zap.Logger
	cfg         func() config.Snapshot
	store       store.Store
	gateway     gateway.Gateway
	cache       cache.Cache
	regimes     regime.Provider
	scanner     *strategy.Scanner
	pool        *workers.Pool
	trader      *trader.Trader
	metrics     *metrics.Metrics
	indexSymbol string
}

// New creates a runner.
func New(deps Deps) *Runner {
	return &Runner{
		logger:      deps.Logger.Named("scan"),
		cfg:         deps.Config,
		store:       deps.Store,
		gateway:     deps.Gateway,
		cache:       deps.Cache,
		regimes:     deps.Regimes,
		scanner:     deps.Scanner,
		pool:        deps.Pool,
		trader:      deps.Trader,
		metrics:     deps.Metrics,
		indexSymbol: deps.IndexSymbol,
	}
}

// Result summarizes one completed cycle.
type Result struct {
	Regime     types.Regime      `json:"regime"`
	Scanned    int               `json:"scanned"`
	Candidates []types.Candidate `json:"candidates"`
	Buy        trader.BuyResult  `json:"-"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Cycle runs one full scan: signal analysis in parallel, order execution
// sequentially. The analysis phase is read-only; each symbol's task writes
// only its own result slot, so the join is the only synchronization needed.
func (r *Runner) Cycle(ctx context.Context) (*Result, error) {
	started := time.Now()
	cfg := r.cfg()

	open, err := r.gateway.IsMarketOpen(ctx)
	if err != nil {
		return nil, err
	}
	if !open {
		r.logger.Debug("market closed, cycle skipped")
		return &Result{Elapsed: time.Since(started)}, nil
	}

	snap, err := r.regimes.Current(ctx)
	if err != nil {
		return nil, err
	}

	watchlist, err := r.store.ActiveWatchlist(ctx)
	if err != nil {
		return nil, err
	}
	if len(watchlist) == 0 {
		return &Result{Regime: snap.Regime, Elapsed: time.Since(started)}, nil
	}

	indexBars, err := r.gateway.DailyBars(ctx, r.indexSymbol, historyBars)
	if err != nil {
		return nil, err
	}
	indexSeries := indicators.FromBars(indexBars)

	results := make([]*types.Candidate, len(watchlist))
	batch := r.pool.NewBatch()
	for i, item := range watchlist {
		i, item := i, item
		err := batch.Go(func(taskCtx context.Context) {
			results[i] = r.analyze(taskCtx, item, indexSeries, snap.Regime, cfg)
		})
		if err != nil {
			return nil, err
		}
	}
	batch.Wait()

	candidates := make([]types.Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].Score > candidates[b].Score
	})

	result := &Result{
		Regime:     snap.Regime,
		Scanned:    len(watchlist),
		Candidates: candidates,
	}
	if len(candidates) > 0 {
		result.Buy = r.trader.ExecuteBuy(ctx, candidates)
	}

	result.Elapsed = time.Since(started)
	r.metrics.ScanCycles.Inc()
	r.metrics.ScanDuration.Observe(result.Elapsed.Seconds())
	r.logger.Info("scan cycle complete",
		zap.String("regime", string(snap.Regime)),
		zap.Int("scanned", result.Scanned),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// analyze evaluates one watchlist item. It returns nil when no signal
// matches or the data is unusable; errors degrade to a skip because one bad
// symbol must not spoil the cycle.
func (r *Runner) analyze(ctx context.Context, item types.WatchlistItem,
	index *indicators.Series, reg types.Regime, cfg config.Snapshot) *types.Candidate {

	bars, err := r.gateway.DailyBars(ctx, item.Symbol, historyBars)
	if err != nil {
		r.logger.Warn("history unavailable, symbol skipped",
			zap.String("symbol", item.Symbol), zap.Error(err))
		return nil
	}
	series := indicators.FromBars(bars)
	if series.Len() == 0 {
		return nil
	}

	sig := r.scanner.Scan(strategy.ScanInput{
		Symbol:   item.Symbol,
		Series:   series,
		Index:    index,
		Regime:   reg,
		BearHint: item.BearHint,
	}, cfg)
	if sig == nil {
		return nil
	}

	score := r.blendSentiment(ctx, item.Symbol, sig.Score)

	atr := decimal.Zero
	if v, ok := indicators.ATR(series.Highs, series.Lows, series.Closes, 14); ok {
		atr = decimal.NewFromFloat(v)
	}

	price := item.LastClose
	if price.LessThanOrEqual(decimal.Zero) {
		price = decimal.NewFromFloat(series.Last())
	}

	return &types.Candidate{
		Symbol:   item.Symbol,
		Sector:   item.Sector,
		Price:    price,
		ATR:      atr,
		Strategy: sig.Strategy,
		Signal:   sig.Kind,
		Score:    score,
		Metadata: sig.Metadata,
		BearHint: item.BearHint,
	}
}

// blendSentiment nudges a signal score by the cached sentiment EMA. Sentiment
// is in [-1, 1]; a missing or failing read leaves the score unchanged.
func (r *Runner) blendSentiment(ctx context.Context, symbol string, score float64) float64 {
	sentiment, found, err := r.cache.SentimentScore(ctx, symbol)
	if err != nil || !found {
		return score
	}
	if sentiment > 1 {
		sentiment = 1
	} else if sentiment < -1 {
		sentiment = -1
	}
	return score * (1 + sentiment*sentimentWeight)
}
