// Package sizing computes risk-budget-based order quantities with hard caps.
package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/pkg/types"
)

// Sizer calculates order quantities from the account risk budget.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer creates a sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger.Named("sizer")}
}

// Request contains the sizing inputs for one candidate.
type Request struct {
	Symbol        string
	Price         decimal.Decimal
	ATR           decimal.Decimal // Zero or negative means unknown
	TotalAssets   decimal.Decimal
	AvailableCash decimal.Decimal
	SizeRatio     float64 // Regime position-size ratio; 0 means 1.0
}

// Calculate sizes the position. A zero quantity always carries a reason;
// constraint rejections are never errors.
func (s *Sizer) Calculate(req Request, cfg config.Snapshot) types.SizingResult {
	if req.TotalAssets.LessThanOrEqual(decimal.Zero) {
		return types.SizingResult{Reason: "total assets must be positive"}
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return types.SizingResult{Reason: "invalid price"}
	}

	ratio := req.SizeRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	riskAmount := req.TotalAssets.
		Mul(decimal.NewFromFloat(cfg.RiskPerTradePct)).
		Mul(decimal.NewFromFloat(ratio))

	atr := req.ATR
	if atr.LessThanOrEqual(decimal.Zero) {
		atr = req.Price.Mul(decimal.NewFromFloat(cfg.ATRDefaultPct))
	}
	riskPerShare := atr.Mul(decimal.NewFromFloat(cfg.ATRMultiplier))
	if riskPerShare.LessThanOrEqual(decimal.Zero) {
		return types.SizingResult{Reason: "invalid risk per share"}
	}

	targetQty := riskAmount.Div(riskPerShare).IntPart()
	if targetQty > cfg.MaxQuantity {
		targetQty = cfg.MaxQuantity
	}
	if targetQty < cfg.MinQuantity {
		return types.SizingResult{
			RiskAmount: riskAmount,
			Reason:     "computed quantity below minimum",
		}
	}

	qty := targetQty

	// Cap (a): position value as a fraction of total assets.
	valueCap := req.TotalAssets.Mul(decimal.NewFromFloat(cfg.MaxPositionValuePct))
	if capQty := valueCap.Div(req.Price).IntPart(); capQty < qty {
		qty = capQty
	}

	// Cap (b): never spend below the cash floor.
	cashFloor := req.TotalAssets.Mul(decimal.NewFromFloat(cfg.CashKeepPct))
	spendable := req.AvailableCash.Sub(cashFloor)
	if spendable.LessThanOrEqual(decimal.Zero) {
		return types.SizingResult{
			RiskAmount: riskAmount,
			Reason:     "available cash at or below cash floor",
		}
	}
	if capQty := spendable.Div(req.Price).IntPart(); capQty < qty {
		// A cash-starved order that shrinks below half the ATR-derived
		// target is not worth its fees.
		if float64(capQty) < float64(targetQty)*cfg.SmartSkipFraction {
			s.logger.Debug("smart skip: cash floor cap too tight",
				zap.String("symbol", req.Symbol),
				zap.Int64("target", targetQty),
				zap.Int64("capped", capQty),
			)
			return types.SizingResult{
				RiskAmount: riskAmount,
				Reason:     "smart skip: cash floor would leave position below half of target",
			}
		}
		qty = capQty
	}

	if qty < cfg.MinQuantity {
		return types.SizingResult{
			RiskAmount: riskAmount,
			Reason:     "capped quantity below minimum",
		}
	}

	return types.SizingResult{
		Quantity:      qty,
		PositionValue: req.Price.Mul(decimal.NewFromInt(qty)),
		RiskAmount:    riskAmount,
	}
}
