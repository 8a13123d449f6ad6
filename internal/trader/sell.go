package trader

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
	"github.com/stockpilot/engine/pkg/utils"
)

// SellRequest asks for part or all of one position to be sold.
type SellRequest struct {
	Symbol string
	// Fraction of the original quantity to sell now. 1.0 (or anything
	// covering the remainder) closes the position.
	Fraction float64
	Reason   string
	Trigger  string // Exit rule or signal name, recorded in the trade log
}

// SellResult reports the outcome of a sell attempt.
type SellResult struct {
	Decision types.Decision
	Quantity int64
	PnL      decimal.Decimal
	Entry    *types.TradeLogEntry
}

// ExecuteSell mirrors the buy pipeline for a single position: re-check the
// position still exists and was not sold within the idempotency window,
// fetch the price, compute realized P&L and holding duration, place the
// order and log it. No state mutates on any rejection branch.
func (t *Trader) ExecuteSell(ctx context.Context, req SellRequest) SellResult {
	cfg := t.cfg()

	if dec := t.checkControlFlags(ctx, false); !dec.IsApproved() {
		return t.skipSell("control_flag", dec)
	}
	if req.Fraction <= 0 {
		return t.skipSell("fraction", types.Skipped("non-positive sell fraction"))
	}

	book, err := t.store.ActivePortfolio(ctx)
	if err != nil {
		return SellResult{Decision: types.Failed(fmt.Errorf("load portfolio: %w", err))}
	}
	var pos *types.Position
	for _, p := range book {
		if p.Symbol == req.Symbol {
			pos = p
			break
		}
	}
	if pos == nil {
		return t.skipSell("not_held", types.Skipped("position %s no longer exists", req.Symbol))
	}

	dup, err := t.store.CheckDuplicateOrder(ctx, req.Symbol, types.SideSell, cfg.DuplicateWindow)
	if err != nil {
		return SellResult{Decision: types.Failed(fmt.Errorf("duplicate check: %w", err))}
	}
	if dup {
		return t.skipSell("duplicate", types.Skipped("recent sell for %s within %s", req.Symbol, cfg.DuplicateWindow))
	}

	quote, err := t.gateway.PriceSnapshot(ctx, req.Symbol)
	if err != nil {
		return SellResult{Decision: types.Failed(fmt.Errorf("price snapshot: %w", err))}
	}
	price := quote.Price

	quantity := int64(float64(pos.OriginalQuantity)*req.Fraction + 0.5)
	if quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	if quantity <= 0 {
		return t.skipSell("quantity", types.Skipped("sell fraction %.2f yields zero quantity", req.Fraction))
	}

	snap, err := t.regimes.Current(ctx)
	if err != nil {
		return SellResult{Decision: types.Failed(fmt.Errorf("regime: %w", err))}
	}

	pnl := price.Sub(pos.AvgEntryPrice).Mul(decimal.NewFromInt(quantity))
	holding := t.now().Sub(pos.EntryAt)

	if t.dryRun(ctx, cfg) {
		t.logger.Info("dry run: sell not placed",
			zap.String("symbol", req.Symbol),
			zap.Int64("quantity", quantity),
			zap.String("reason", req.Reason),
		)
		return t.skipSell("dry_run", types.Skipped("dry-run mode: order not placed"))
	}

	orderID, err := t.gateway.PlaceSellOrder(ctx, req.Symbol, quantity, price)
	if err != nil {
		t.metrics.OrdersSkipped.WithLabelValues("gateway").Inc()
		return SellResult{Decision: types.Failed(fmt.Errorf("place sell order: %w", err))}
	}

	entry := &types.TradeLogEntry{
		ID:       utils.GenerateTradeID(),
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Side:     types.SideSell,
		Quantity: quantity,
		Price:    price,
		Reason:   req.Reason,
		Signal:   types.SignalKind(req.Trigger),
		Regime:   snap.Regime,
		Risk:     snap.Risk,
		PnL:      pnl,
		Metrics: map[string]string{
			"entry_price":   pos.AvgEntryPrice.String(),
			"holding_hours": fmt.Sprintf("%.1f", holding.Hours()),
			"sold_fraction": fmt.Sprintf("%.2f", pos.SoldFraction),
		},
		ExecutedAt: t.now(),
	}
	if err := t.store.RecordTrade(ctx, entry); err != nil {
		t.logger.Error("order placed but trade log write failed",
			zap.String("order_id", orderID), zap.Error(err))
	}

	sold := pos.SoldFraction + float64(quantity)/float64(pos.OriginalQuantity)
	if sold > 1.0 {
		sold = 1.0
	}
	pos.SoldFraction = sold
	pos.Quantity -= quantity

	if pos.Quantity <= 0 || pos.SoldFraction >= 1.0 {
		if err := t.store.ClosePosition(ctx, req.Symbol); err != nil {
			t.logger.Error("position close failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	} else if err := t.store.UpsertPosition(ctx, pos); err != nil {
		t.logger.Error("position update failed", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	t.metrics.OrdersPlaced.WithLabelValues("sell").Inc()
	t.logger.Info("sell executed",
		zap.String("symbol", req.Symbol),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("reason", req.Reason),
		zap.Duration("holding", holding),
	)
	return SellResult{Decision: types.Approved(), Quantity: quantity, PnL: pnl, Entry: entry}
}

func (t *Trader) skipSell(stage string, dec types.Decision) SellResult {
	t.metrics.OrdersSkipped.WithLabelValues("sell_" + stage).Inc()
	t.logger.Debug("sell skipped", zap.String("stage", stage), zap.String("reason", dec.Reason))
	return SellResult{Decision: dec}
}
