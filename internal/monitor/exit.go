// Package monitor continuously re-evaluates open positions against the exit
// rules: ATR trailing stop, regime stop-loss and target-profit, RSI
// scale-out tiers, death cross and maximum holding days.
package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/indicators"
	"github.com/stockpilot/engine/pkg/types"
)

// Action is what the evaluator wants done with the position.
type Action string

const (
	ActionNone    Action = "none"
	ActionFull    Action = "full"
	ActionPartial Action = "partial"
)

// Trigger names the exit rule that fired.
type Trigger string

const (
	TriggerTrailingStop Trigger = "trailing_stop"
	TriggerStopLoss     Trigger = "stop_loss"
	TriggerTargetProfit Trigger = "target_profit"
	TriggerRSITier1     Trigger = "rsi_tier1"
	TriggerRSITier2     Trigger = "rsi_tier2"
	TriggerRSITier3     Trigger = "rsi_tier3"
	TriggerDeathCross   Trigger = "death_cross"
	TriggerMaxHolding   Trigger = "max_holding"
)

// Evaluation is the outcome of one exit check.
type Evaluation struct {
	Action         Action
	Trigger        Trigger
	TargetFraction float64 // Cumulative sold-fraction target for partials
	Reason         string
}

// Evaluate applies the exit rules in strict priority order and returns the
// first match. It also advances the position's trailing-stop state
// (high-water mark, breakeven activation) every call, even when nothing
// fires; callers persist the position afterwards.
//
// Both the polling loop and the streaming tick path go through this one
// function so the two modes can never diverge.
func Evaluate(pos *types.Position, price decimal.Decimal, series *indicators.Series,
	riskSetting types.RiskSetting, maxHoldingDays int, now time.Time, cfg config.Snapshot) Evaluation {

	updateTrailingState(pos, price, cfg)

	entry := pos.AvgEntryPrice

	// 1. ATR trailing stop.
	if pos.TrailingStop != nil && price.LessThanOrEqual(*pos.TrailingStop) {
		return Evaluation{
			Action:  ActionFull,
			Trigger: TriggerTrailingStop,
			Reason:  "price " + price.StringFixed(2) + " breached trailing stop " + pos.TrailingStop.StringFixed(2),
		}
	}

	// 2. Regime-derived stop-loss.
	stopPrice := entry.Mul(decimal.NewFromFloat(1 + riskSetting.StopLossPct))
	if price.LessThanOrEqual(stopPrice) {
		return Evaluation{
			Action:  ActionFull,
			Trigger: TriggerStopLoss,
			Reason:  "price " + price.StringFixed(2) + " at or below stop " + stopPrice.StringFixed(2),
		}
	}

	// 3. Target profit, only before any scale-out has happened.
	targetPrice := entry.Mul(decimal.NewFromFloat(1 + riskSetting.TargetProfitPct))
	if pos.SoldFraction == 0 && price.GreaterThanOrEqual(targetPrice) {
		return Evaluation{
			Action:  ActionFull,
			Trigger: TriggerTargetProfit,
			Reason:  "price " + price.StringFixed(2) + " reached target " + targetPrice.StringFixed(2),
		}
	}

	// 4. RSI overbought scale-out. Each tier fires only while the
	// cumulative sold fraction is still below its target, so repeated
	// evaluations never sell the same tier twice.
	if rsi, ok := indicators.RSI(series.Closes, 14); ok {
		switch {
		case rsi >= cfg.RSITier3 && pos.SoldFraction < cfg.RSITier3Target:
			return Evaluation{Action: ActionPartial, Trigger: TriggerRSITier3,
				TargetFraction: cfg.RSITier3Target,
				Reason:         "rsi overbought tier 3"}
		case rsi >= cfg.RSITier2 && pos.SoldFraction < cfg.RSITier2Target:
			return Evaluation{Action: ActionPartial, Trigger: TriggerRSITier2,
				TargetFraction: cfg.RSITier2Target,
				Reason:         "rsi overbought tier 2"}
		case rsi >= cfg.RSITier1 && pos.SoldFraction < cfg.RSITier1Target:
			return Evaluation{Action: ActionPartial, Trigger: TriggerRSITier1,
				TargetFraction: cfg.RSITier1Target,
				Reason:         "rsi overbought tier 1"}
		}
	}

	// 5. Death cross, only after the position has been meaningfully up.
	if pos.EverUpPct >= cfg.DeathCrossMinGainPct && deathCross(series.Closes) {
		return Evaluation{
			Action:  ActionFull,
			Trigger: TriggerDeathCross,
			Reason:  "short ma crossed below long ma after gain",
		}
	}

	// 6. Maximum holding period.
	if maxHoldingDays > 0 && now.Sub(pos.EntryAt) >= time.Duration(maxHoldingDays)*24*time.Hour {
		return Evaluation{
			Action:  ActionFull,
			Trigger: TriggerMaxHolding,
			Reason:  "max holding days exceeded",
		}
	}

	return Evaluation{Action: ActionNone}
}

// updateTrailingState advances the high-water mark, the peak-gain marker and
// the trailing stop. The stop only ratchets upward.
func updateTrailingState(pos *types.Position, price decimal.Decimal, cfg config.Snapshot) {
	if price.GreaterThan(pos.HighWaterMark) {
		pos.HighWaterMark = price
	}
	if pos.AvgEntryPrice.GreaterThan(decimal.Zero) {
		gain := price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).InexactFloat64() * 100
		if gain > pos.EverUpPct {
			pos.EverUpPct = gain
		}
	}

	atr := pos.EntryATR
	if atr.LessThanOrEqual(decimal.Zero) {
		atr = pos.AvgEntryPrice.Mul(decimal.NewFromFloat(cfg.ATRDefaultPct))
	}

	activation := pos.AvgEntryPrice.Add(atr.Mul(decimal.NewFromFloat(cfg.TrailInitialMultiplier)))
	if pos.HighWaterMark.GreaterThanOrEqual(activation) {
		stop := pos.HighWaterMark.Sub(atr.Mul(decimal.NewFromFloat(cfg.TrailMultiplier)))
		if pos.TrailingStop == nil || stop.GreaterThan(*pos.TrailingStop) {
			pos.TrailingStop = &stop
		}
	}
}

// deathCross reports whether the 5-period MA dropped below the 20-period MA
// on the most recent step.
func deathCross(closes []float64) bool {
	if len(closes) < 21 {
		return false
	}
	short := indicators.SMASeries(closes, 5)
	long := indicators.SMASeries(closes, 20)
	cur, prev := len(closes)-1, len(closes)-2
	return short[cur] < long[cur] && short[prev] >= long[prev]
}

// SellFraction converts an evaluation into the delta fraction of the
// original quantity to sell now.
func (e Evaluation) SellFraction(pos *types.Position) float64 {
	switch e.Action {
	case ActionFull:
		return pos.RemainingFraction()
	case ActionPartial:
		delta := e.TargetFraction - pos.SoldFraction
		if delta < 0 {
			return 0
		}
		if remaining := pos.RemainingFraction(); delta > remaining {
			return remaining
		}
		return delta
	default:
		return 0
	}
}
