package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
	"github.com/stockpilot/engine/pkg/utils"
)

// Paper is a simulated gateway. It serves prices from a last-close table,
// fills every order at the requested price and keeps a cash ledger. The
// backtester and dry-run deployments use it in place of a real brokerage.
type Paper struct {
	logger *zap.Logger

	mu         sync.RWMutex
	cash       decimal.Decimal
	lastCloses map[string]decimal.Decimal
	bars       map[string][]types.OHLCV
	marketOpen bool
}

// NewPaper creates a paper gateway with the given starting cash.
func NewPaper(logger *zap.Logger, cash decimal.Decimal) *Paper {
	return &Paper{
		logger:     logger.Named("paper-gateway"),
		cash:       cash,
		lastCloses: make(map[string]decimal.Decimal),
		bars:       make(map[string][]types.OHLCV),
		marketOpen: true,
	}
}

// SetLastClose records the fallback price for a symbol.
func (p *Paper) SetLastClose(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCloses[utils.FormatSymbol(symbol)] = price
}

// SetBars replaces the daily history for a symbol, oldest first.
func (p *Paper) SetBars(symbol string, bars []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[utils.FormatSymbol(symbol)] = append([]types.OHLCV(nil), bars...)
	if len(bars) > 0 {
		p.lastCloses[utils.FormatSymbol(symbol)] = bars[len(bars)-1].Close
	}
}

// SetMarketOpen toggles the simulated session state.
func (p *Paper) SetMarketOpen(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketOpen = open
}

func (p *Paper) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash, nil
}

func (p *Paper) PriceSnapshot(ctx context.Context, symbol string) (*types.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.lastCloses[utils.FormatSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return &types.Quote{
		Symbol: utils.FormatSymbol(symbol),
		Price:  price,
		Open:   price,
		High:   price,
		Low:    price,
		At:     time.Now().UTC(),
	}, nil
}

func (p *Paper) DailyBars(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bars, ok := p.bars[utils.FormatSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: no history for %s", ErrPriceUnavailable, symbol)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]types.OHLCV(nil), bars...), nil
}

func (p *Paper) PlaceBuyOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.marketOpen {
		return "", ErrMarketClosed
	}
	cost := price.Mul(decimal.NewFromInt(quantity))
	if cost.GreaterThan(p.cash) {
		return "", fmt.Errorf("insufficient cash: need %s, have %s", cost, p.cash)
	}
	p.cash = p.cash.Sub(cost)
	orderID := utils.GenerateID("ord")
	p.logger.Info("paper buy filled",
		zap.String("symbol", symbol),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("order_id", orderID),
	)
	return orderID, nil
}

func (p *Paper) PlaceSellOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.marketOpen {
		return "", ErrMarketClosed
	}
	p.cash = p.cash.Add(price.Mul(decimal.NewFromInt(quantity)))
	orderID := utils.GenerateID("ord")
	p.logger.Info("paper sell filled",
		zap.String("symbol", symbol),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("order_id", orderID),
	)
	return orderID, nil
}

func (p *Paper) IsMarketOpen(ctx context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.marketOpen, nil
}
