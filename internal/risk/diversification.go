package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/pkg/types"
)

// Checker enforces sector and single-instrument concentration limits over
// the current book plus the candidate.
type Checker struct {
	logger *zap.Logger
}

// NewChecker creates a diversification checker.
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{logger: logger.Named("diversification")}
}

// CheckRequest describes the candidate trade and the current book.
type CheckRequest struct {
	Symbol      string
	Sector      string
	Price       decimal.Decimal
	Quantity    int64
	Book        []*types.Position
	Prices      map[string]decimal.Decimal // Current price per held symbol
	TotalAssets decimal.Decimal
	Regime      types.Regime
}

// Check computes post-trade sector and instrument exposure as percentages of
// total assets and approves or rejects the candidate. On rejection the
// result carries ResizedQuantity: the largest quantity that fits within the
// violated limit minus the safety margin (zero when nothing fits).
func (c *Checker) Check(req CheckRequest, cfg config.Snapshot) types.DiversificationResult {
	if req.TotalAssets.LessThanOrEqual(decimal.Zero) {
		return types.DiversificationResult{Reason: "total assets must be positive"}
	}

	sectorLimit := cfg.SectorLimitPct * 100
	stockLimit := cfg.StockLimitPct * 100
	if req.Regime == types.RegimeStrongBull {
		sectorLimit = cfg.SectorLimitStrongBullPct * 100
		stockLimit = cfg.StockLimitStrongBullPct * 100
	}

	total := req.TotalAssets
	tradeValue := req.Price.Mul(decimal.NewFromInt(req.Quantity))

	sectorHeld := decimal.Zero
	stockHeld := decimal.Zero
	for _, pos := range req.Book {
		price, ok := req.Prices[pos.Symbol]
		if !ok {
			price = pos.AvgEntryPrice
		}
		value := price.Mul(decimal.NewFromInt(pos.Quantity))
		if pos.Sector == req.Sector {
			sectorHeld = sectorHeld.Add(value)
		}
		if pos.Symbol == req.Symbol {
			stockHeld = stockHeld.Add(value)
		}
	}

	pct := func(v decimal.Decimal) float64 {
		return v.Div(total).InexactFloat64() * 100
	}
	sectorPct := pct(sectorHeld.Add(tradeValue))
	stockPct := pct(stockHeld.Add(tradeValue))

	result := types.DiversificationResult{
		SectorExposurePct: sectorPct,
		StockExposurePct:  stockPct,
		Tier:              tierFor(sectorPct, stockPct, sectorLimit, stockLimit),
	}

	if sectorPct > sectorLimit {
		result.Reason = fmt.Sprintf("sector %s exposure %.1f%% exceeds limit %.1f%%",
			req.Sector, sectorPct, sectorLimit)
		result.ResizedQuantity = c.maxFittingQuantity(sectorHeld, req.Price, total, sectorLimit, cfg)
		c.logger.Debug("diversification rejected", zap.String("symbol", req.Symbol),
			zap.String("reason", result.Reason), zap.Int64("resized", result.ResizedQuantity))
		return result
	}
	if stockPct > stockLimit {
		result.Reason = fmt.Sprintf("instrument %s exposure %.1f%% exceeds limit %.1f%%",
			req.Symbol, stockPct, stockLimit)
		result.ResizedQuantity = c.maxFittingQuantity(stockHeld, req.Price, total, stockLimit, cfg)
		c.logger.Debug("diversification rejected", zap.String("symbol", req.Symbol),
			zap.String("reason", result.Reason), zap.Int64("resized", result.ResizedQuantity))
		return result
	}

	result.Approved = true
	return result
}

// maxFittingQuantity returns the largest quantity whose projected exposure
// stays within limitPct minus the safety margin (in percentage points, to
// absorb rounding).
func (c *Checker) maxFittingQuantity(held, price, total decimal.Decimal, limitPct float64, cfg config.Snapshot) int64 {
	budgetPct := limitPct - cfg.ResizeMarginPct
	if budgetPct <= 0 {
		return 0
	}
	budget := total.Mul(decimal.NewFromFloat(budgetPct / 100)).Sub(held)
	if budget.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	qty := budget.Div(price).IntPart()
	if qty < 0 {
		return 0
	}
	return qty
}

func tierFor(sectorPct, stockPct, sectorLimit, stockLimit float64) types.ConcentrationTier {
	headroom := sectorLimit - sectorPct
	if h := stockLimit - stockPct; h < headroom {
		headroom = h
	}
	switch {
	case headroom < 5:
		return types.ConcentrationHigh
	case headroom < 15:
		return types.ConcentrationMedium
	default:
		return types.ConcentrationLow
	}
}
