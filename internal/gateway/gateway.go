// Package gateway defines the contract the engine requires from the
// market-data/execution provider, plus a paper adapter for simulation.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stockpilot/engine/pkg/types"
)

// ErrPriceUnavailable is returned when no live price can be fetched and no
// fallback close is known.
var ErrPriceUnavailable = errors.New("price unavailable")

// ErrMarketClosed is returned by order placement outside trading hours.
var ErrMarketClosed = errors.New("market closed")

// Gateway is the brokerage contract. Every call can fail; callers fall back
// to the last known close where semantically safe, or abort the cycle.
type Gateway interface {
	CashBalance(ctx context.Context) (decimal.Decimal, error)
	PriceSnapshot(ctx context.Context, symbol string) (*types.Quote, error)
	// DailyBars returns up to limit daily bars for the symbol, oldest first.
	DailyBars(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error)
	PlaceBuyOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (orderID string, err error)
	PlaceSellOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (orderID string, err error)
	IsMarketOpen(ctx context.Context) (bool, error)
}
