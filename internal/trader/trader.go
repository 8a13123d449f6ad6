// Package trader implements the buy and sell order lifecycle: safety
// constraints, the idempotency gate, diversification-aware resizing, order
// placement and trade logging. Every rejection branch is side-effect-free;
// state mutates only when an order is actually accepted.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/gateway"
	"github.com/stockpilot/engine/internal/metrics"
	"github.com/stockpilot/engine/internal/regime"
	"github.com/stockpilot/engine/internal/risk"
	"github.com/stockpilot/engine/internal/sizing"
	"github.com/stockpilot/engine/internal/store"
	"github.com/stockpilot/engine/pkg/types"
	"github.com/stockpilot/engine/pkg/utils"
)

// Deps bundles the collaborators both executors need.
type Deps struct {
	Logger  *zap.Logger
	Config  func() config.Snapshot
	Store   store.Store
	Gateway gateway.Gateway
	Cache   cache.Cache
	Regimes regime.Provider
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Trader runs the order lifecycle for buys and sells.
type Trader struct {
	logger  *zap.Logger
	cfg     func() config.Snapshot
	store   store.Store
	gateway gateway.Gateway
	cache   cache.Cache
	regimes regime.Provider
	sizer   *sizing.Sizer
	checker *risk.Checker
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a trader.
func New(deps Deps) *Trader {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Trader{
		logger:  deps.Logger.Named("trader"),
		cfg:     deps.Config,
		store:   deps.Store,
		gateway: deps.Gateway,
		cache:   deps.Cache,
		regimes: deps.Regimes,
		sizer:   sizing.NewSizer(deps.Logger),
		checker: risk.NewChecker(deps.Logger),
		metrics: deps.Metrics,
		now:     now,
	}
}

// BuyResult reports the outcome of one buy cycle.
type BuyResult struct {
	Decision types.Decision
	Symbol   string
	Quantity int64
	Entry    *types.TradeLogEntry
	Position *types.Position
}

// ExecuteBuy runs the full buy pipeline over a batch of scanned candidates
// and places at most one order: the highest-score candidate that survives
// every gate.
func (t *Trader) ExecuteBuy(ctx context.Context, candidates []types.Candidate) BuyResult {
	cfg := t.cfg()

	if dec := t.checkControlFlags(ctx, true); !dec.IsApproved() {
		return t.skipBuy("control_flag", dec)
	}

	book, err := t.store.ActivePortfolio(ctx)
	if err != nil {
		return BuyResult{Decision: types.Failed(fmt.Errorf("load portfolio: %w", err))}
	}
	if len(book) >= cfg.MaxOpenPositions {
		return t.skipBuy("book_size", types.Skipped("book size %d at limit %d", len(book), cfg.MaxOpenPositions))
	}

	dayStart := t.startOfDay()
	buysToday, err := t.store.CountTradesSince(ctx, types.SideBuy, dayStart)
	if err != nil {
		return BuyResult{Decision: types.Failed(fmt.Errorf("count daily buys: %w", err))}
	}
	if buysToday >= cfg.DailyBuyLimit {
		return t.skipBuy("daily_limit", types.Skipped("daily buy count %d at limit %d", buysToday, cfg.DailyBuyLimit))
	}

	held := make(map[string]bool, len(book))
	for _, pos := range book {
		held[pos.Symbol] = true
	}

	eligible := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if held[c.Symbol] {
			continue
		}
		// Any candidate with a recent buy aborts the whole batch: a
		// half-visible previous cycle means our view of the book may be
		// stale, so placing anything is unsafe.
		dup, err := t.store.CheckDuplicateOrder(ctx, c.Symbol, types.SideBuy, cfg.DuplicateWindow)
		if err != nil {
			return BuyResult{Decision: types.Failed(fmt.Errorf("duplicate check %s: %w", c.Symbol, err))}
		}
		if dup {
			return t.skipBuy("duplicate", types.Skipped("recent buy for %s within %s, aborting batch", c.Symbol, cfg.DuplicateWindow))
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return t.skipBuy("no_candidates", types.Skipped("no eligible candidates"))
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	price := t.livePrice(ctx, best.Symbol, best.Price)
	if price.LessThanOrEqual(decimal.Zero) {
		return t.skipBuy("price", types.Skipped("no usable price for %s", best.Symbol))
	}

	snap, err := t.regimes.Current(ctx)
	if err != nil {
		return BuyResult{Decision: types.Failed(fmt.Errorf("regime: %w", err))}
	}

	cash, err := t.gateway.CashBalance(ctx)
	if err != nil {
		return BuyResult{Decision: types.Failed(fmt.Errorf("cash balance: %w", err))}
	}
	prices := t.bookPrices(ctx, book)
	totalAssets := t.totalAssets(cash, book, prices)

	sized := t.sizer.Calculate(sizing.Request{
		Symbol:        best.Symbol,
		Price:         price,
		ATR:           best.ATR,
		TotalAssets:   totalAssets,
		AvailableCash: cash,
		SizeRatio:     snap.Risk.PositionSizeRatio,
	}, cfg)
	if sized.Quantity == 0 {
		return t.skipBuy("sizing", types.Skipped("sizing: %s", sized.Reason))
	}

	quantity := sized.Quantity
	check := t.checker.Check(risk.CheckRequest{
		Symbol:      best.Symbol,
		Sector:      best.Sector,
		Price:       price,
		Quantity:    quantity,
		Book:        book,
		Prices:      prices,
		TotalAssets: totalAssets,
		Regime:      snap.Regime,
	}, cfg)
	if !check.Approved {
		// One resize-and-retry: shrink to the largest quantity that fits
		// the violated limit, unless that leaves a position too small to
		// bother with.
		resized := check.ResizedQuantity
		if float64(resized) < float64(quantity)*cfg.MinResizeFraction {
			return t.skipBuy("diversification", types.Skipped("smart skip: resized quantity %d below %.0f%% of target %d (%s)",
				resized, cfg.MinResizeFraction*100, quantity, check.Reason))
		}
		recheck := t.checker.Check(risk.CheckRequest{
			Symbol:      best.Symbol,
			Sector:      best.Sector,
			Price:       price,
			Quantity:    resized,
			Book:        book,
			Prices:      prices,
			TotalAssets: totalAssets,
			Regime:      snap.Regime,
		}, cfg)
		if !recheck.Approved {
			return t.skipBuy("diversification", types.Skipped("resized quantity still rejected: %s", recheck.Reason))
		}
		t.logger.Info("buy resized to fit diversification limit",
			zap.String("symbol", best.Symbol),
			zap.Int64("original", quantity),
			zap.Int64("resized", resized),
			zap.String("reason", check.Reason),
		)
		quantity = resized
		check = recheck
	}

	if t.dryRun(ctx, cfg) {
		t.logger.Info("dry run: buy not placed",
			zap.String("symbol", best.Symbol),
			zap.Int64("quantity", quantity),
			zap.String("price", price.String()),
			zap.String("signal", string(best.Signal)),
		)
		return t.skipBuy("dry_run", types.Skipped("dry-run mode: order not placed"))
	}

	orderID, err := t.gateway.PlaceBuyOrder(ctx, best.Symbol, quantity, price)
	if err != nil {
		t.metrics.OrdersSkipped.WithLabelValues("gateway").Inc()
		return BuyResult{Decision: types.Failed(fmt.Errorf("place buy order: %w", err))}
	}

	entry := &types.TradeLogEntry{
		ID:       utils.GenerateTradeID(),
		OrderID:  orderID,
		Symbol:   best.Symbol,
		Side:     types.SideBuy,
		Quantity: quantity,
		Price:    price,
		Reason:   fmt.Sprintf("signal %s via %s", best.Signal, best.Strategy),
		Strategy: best.Strategy,
		Signal:   best.Signal,
		Regime:   snap.Regime,
		Risk:     snap.Risk,
		Metrics: mergeMetrics(best.Metadata, map[string]string{
			"score":           fmt.Sprintf("%.1f", best.Score),
			"sector_exposure": fmt.Sprintf("%.1f%%", check.SectorExposurePct),
			"risk_amount":     sized.RiskAmount.StringFixed(2),
		}),
		ExecutedAt: t.now(),
	}
	if err := t.store.RecordTrade(ctx, entry); err != nil {
		// The order is live; a missing log row loses idempotency cover, so
		// surface loudly rather than pretend the buy failed.
		t.logger.Error("order placed but trade log write failed",
			zap.String("order_id", orderID), zap.Error(err))
	}

	pos := &types.Position{
		Symbol:           best.Symbol,
		Sector:           best.Sector,
		Quantity:         quantity,
		OriginalQuantity: quantity,
		AvgEntryPrice:    price,
		EntryAt:          t.now(),
		EntryATR:         best.ATR,
		InitialStop:      price.Mul(decimal.NewFromFloat(1 + snap.Risk.StopLossPct)),
		HighWaterMark:    price,
	}
	if err := t.store.UpsertPosition(ctx, pos); err != nil {
		t.logger.Error("position upsert failed", zap.String("symbol", best.Symbol), zap.Error(err))
	}

	t.metrics.OrdersPlaced.WithLabelValues("buy").Inc()
	t.logger.Info("buy executed",
		zap.String("symbol", best.Symbol),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("regime", string(snap.Regime)),
		zap.String("order_id", orderID),
	)
	return BuyResult{Decision: types.Approved(), Symbol: best.Symbol, Quantity: quantity, Entry: entry, Position: pos}
}

func (t *Trader) skipBuy(stage string, dec types.Decision) BuyResult {
	t.metrics.OrdersSkipped.WithLabelValues(stage).Inc()
	t.logger.Debug("buy skipped", zap.String("stage", stage), zap.String("reason", dec.Reason))
	return BuyResult{Decision: dec}
}

// livePrice fetches the gateway snapshot, falling back to the reference
// price (last close) when the gateway is unavailable.
func (t *Trader) livePrice(ctx context.Context, symbol string, fallback decimal.Decimal) decimal.Decimal {
	quote, err := t.gateway.PriceSnapshot(ctx, symbol)
	if err != nil {
		t.logger.Warn("price snapshot unavailable, using last close",
			zap.String("symbol", symbol), zap.Error(err))
		return fallback
	}
	return quote.Price
}

func (t *Trader) bookPrices(ctx context.Context, book []*types.Position) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(book))
	for _, pos := range book {
		prices[pos.Symbol] = t.livePrice(ctx, pos.Symbol, pos.AvgEntryPrice)
	}
	return prices
}

func (t *Trader) totalAssets(cash decimal.Decimal, book []*types.Position, prices map[string]decimal.Decimal) decimal.Decimal {
	total := cash
	for _, pos := range book {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.AvgEntryPrice
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}

// checkControlFlags gates the executors on the shared stop/pause switches.
// Sells stay enabled while paused so exits can still protect capital.
func (t *Trader) checkControlFlags(ctx context.Context, isBuy bool) types.Decision {
	stop, err := t.cache.GetFlag(ctx, cache.FlagStop)
	if err != nil {
		t.logger.Warn("flag read failed, continuing", zap.Error(err))
	} else if stop.Enabled {
		return types.Skipped("trading stopped: %s", stop.Reason)
	}
	if isBuy {
		pause, err := t.cache.GetFlag(ctx, cache.FlagPause)
		if err == nil && pause.Enabled {
			return types.Skipped("buying paused: %s", pause.Reason)
		}
	}
	return types.Approved()
}

func (t *Trader) dryRun(ctx context.Context, cfg config.Snapshot) bool {
	if cfg.DryRun {
		return true
	}
	flag, err := t.cache.GetFlag(ctx, cache.FlagDryRun)
	return err == nil && flag.Enabled
}

func (t *Trader) startOfDay() time.Time {
	now := t.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func mergeMetrics(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
