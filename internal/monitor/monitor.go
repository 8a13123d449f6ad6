package monitor

import (
	"context"
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
	"github.com/stockpilot/engine/internal/trader"
	"github.com/stockpilot/engine/pkg/types"
)

// historyBars is how much daily history the evaluator needs for RSI and the
// moving-average cross.
const historyBars = 60

// Deps bundles the monitor's collaborators.
type Deps struct {
	Logger  *zap.Logger
	Config  func() config.Snapshot
	Store   store.Store
	Gateway gateway.Gateway
	Cache   cache.Cache
	Regimes regime.Provider
	Trader  *trader.Trader
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Monitor watches open positions and fires exits. It supports two price
// sources: the polling loop (Run) and streamed ticks (OnTick); both feed the
// same evaluator.
type Monitor struct {
	logger  *zap.Logger
	cfg     func() config.Snapshot
	store   store.Store
	gateway gateway.Gateway
	cache   cache.Cache
	regimes regime.Provider
	trader  *trader.Trader
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a monitor.
func New(deps Deps) *Monitor {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		logger:  deps.Logger.Named("monitor"),
		cfg:     deps.Config,
		store:   deps.Store,
		gateway: deps.Gateway,
		cache:   deps.Cache,
		regimes: deps.Regimes,
		trader:  deps.Trader,
		metrics: deps.Metrics,
		now:     now,
	}
}

// Run polls every MonitorInterval until the context is cancelled or the stop
// flag is raised. Poll errors are logged and the loop keeps going; a single
// bad cycle must not abandon open positions.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg().MonitorInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.stopped(ctx) {
				m.logger.Info("monitor halted by stop flag")
				return nil
			}
			if err := m.Poll(ctx); err != nil {
				m.logger.Error("monitor poll failed", zap.Error(err))
			}
		}
	}
}

// Poll runs one evaluation pass over every open position.
func (m *Monitor) Poll(ctx context.Context) error {
	open, err := m.gateway.IsMarketOpen(ctx)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}

	book, err := m.store.ActivePortfolio(ctx)
	if err != nil {
		return err
	}
	m.metrics.OpenPositions.Set(float64(len(book)))

	for _, pos := range book {
		quote, err := m.gateway.PriceSnapshot(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn("no price for position, skipping",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if err := m.evaluate(ctx, pos, quote.Price); err != nil {
			m.logger.Error("position evaluation failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
	return nil
}

// OnTick evaluates a single streamed price against the position for its
// symbol, if one is open. Ticks for symbols we do not hold are ignored.
func (m *Monitor) OnTick(ctx context.Context, tick gateway.Tick) {
	book, err := m.store.ActivePortfolio(ctx)
	if err != nil {
		m.logger.Warn("tick dropped, portfolio unavailable", zap.Error(err))
		return
	}
	for _, pos := range book {
		if pos.Symbol != tick.Symbol {
			continue
		}
		if err := m.evaluate(ctx, pos, tick.Price); err != nil {
			m.logger.Error("tick evaluation failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
		return
	}
}

// evaluate runs the exit rules for one position at one price, persists the
// advanced trailing state and delegates any resulting sell to the trader.
func (m *Monitor) evaluate(ctx context.Context, pos *types.Position, price decimal.Decimal) error {
	cfg := m.cfg()

	bars, err := m.gateway.DailyBars(ctx, pos.Symbol, historyBars)
	if err != nil {
		return err
	}
	series := indicators.FromBars(bars).WithPrice(price.InexactFloat64())

	snap, err := m.regimes.Current(ctx)
	if err != nil {
		return err
	}

	eval := Evaluate(pos, price, series, snap.Risk, cfg.MaxHoldingDaysFor(snap.Regime), m.now(), cfg)

	// Trailing state advanced even when nothing fires; keep it durable so a
	// restart does not forget the high-water mark.
	if err := m.store.UpsertPosition(ctx, pos); err != nil {
		m.logger.Warn("trailing state persist failed",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	}

	if eval.Action == ActionNone {
		return nil
	}

	fraction := eval.SellFraction(pos)
	if fraction <= 0 {
		return nil
	}

	m.metrics.ExitTriggers.WithLabelValues(string(eval.Trigger)).Inc()
	m.logger.Info("exit triggered",
		zap.String("symbol", pos.Symbol),
		zap.String("trigger", string(eval.Trigger)),
		zap.String("action", string(eval.Action)),
		zap.Float64("fraction", fraction),
		zap.String("price", price.String()),
	)

	result := m.trader.ExecuteSell(ctx, trader.SellRequest{
		Symbol:   pos.Symbol,
		Fraction: fraction,
		Reason:   eval.Reason,
		Trigger:  string(eval.Trigger),
	})
	if result.Decision.Err != nil {
		return result.Decision.Err
	}
	if !result.Decision.IsApproved() {
		m.logger.Debug("exit sell skipped",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", result.Decision.Reason))
	}
	return nil
}

func (m *Monitor) stopped(ctx context.Context) bool {
	flag, err := m.cache.GetFlag(ctx, cache.FlagStop)
	return err == nil && flag.Enabled
}
