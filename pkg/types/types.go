// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime represents a coarse market-condition classification derived from
// index price action.
type Regime string

const (
	RegimeStrongBull Regime = "strong_bull"
	RegimeBull       Regime = "bull"
	RegimeSideways   Regime = "sideways"
	RegimeBear       Regime = "bear"
)

// OrderedRegimes is the tie-break order used when regime scores are equal.
var OrderedRegimes = []Regime{RegimeStrongBull, RegimeBull, RegimeBear, RegimeSideways}

// Side represents buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// StrategyID identifies a signal strategy.
type StrategyID string

const (
	StrategyMeanReversion    StrategyID = "mean_reversion"
	StrategyTrendFollowing   StrategyID = "trend_following"
	StrategySnipeDip         StrategyID = "bear_snipe_dip"
	StrategyMomentumBreakout StrategyID = "bear_momentum_breakout"
)

// SignalKind identifies the concrete entry condition that matched.
type SignalKind string

const (
	SignalLowerBand        SignalKind = "lower_band"
	SignalNearBand         SignalKind = "near_band"
	SignalRSIOversold      SignalKind = "rsi_oversold"
	SignalGoldenCross      SignalKind = "golden_cross"
	SignalHighBreakout     SignalKind = "high_breakout"
	SignalMARising         SignalKind = "ma_rising"
	SignalSnipeDip         SignalKind = "snipe_dip"
	SignalMomentumBreakout SignalKind = "momentum_breakout"
)

// RiskSetting bundles the regime-derived risk parameters.
type RiskSetting struct {
	StopLossPct       float64 `json:"stopLossPct"`       // Negative, e.g. -0.02
	TargetProfitPct   float64 `json:"targetProfitPct"`   // Positive, e.g. 0.03
	PositionSizeRatio float64 `json:"positionSizeRatio"` // Scales the sizer output
}

// RegimeSnapshot is the cached result of a regime classification together
// with the numeric signals that produced it.
type RegimeSnapshot struct {
	Regime     Regime             `json:"regime"`
	Scores     map[Regime]float64 `json:"scores"`
	MADistance float64            `json:"maDistance"` // % distance of price from MA
	Return1D   float64            `json:"return1d"`
	Return5D   float64            `json:"return5d"`
	Risk       RiskSetting        `json:"risk"`
	ComputedAt time.Time          `json:"computedAt"`
}

// OHLCV represents a single daily bar.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Quote is a live price snapshot from the gateway.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	At     time.Time       `json:"at"`
}

// Position represents an open holding. It is owned by the book that holds
// it and mutated only by the exit evaluator and partial-sell execution.
type Position struct {
	Symbol           string           `json:"symbol"`
	Sector           string           `json:"sector"`
	Quantity         int64            `json:"quantity"`
	OriginalQuantity int64            `json:"originalQuantity"`
	AvgEntryPrice    decimal.Decimal  `json:"avgEntryPrice"`
	EntryAt          time.Time        `json:"entryAt"`
	EntryATR         decimal.Decimal  `json:"entryAtr"`
	InitialStop      decimal.Decimal  `json:"initialStop"`
	TrailingStop     *decimal.Decimal `json:"trailingStop,omitempty"` // Nil until activated
	HighWaterMark    decimal.Decimal  `json:"highWaterMark"`
	SoldFraction     float64          `json:"soldFraction"` // 0.0-1.0, monotonically non-decreasing
	EverUpPct        float64          `json:"everUpPct"`    // Max gain % seen since entry
}

// RemainingFraction returns the unsold fraction of the original quantity.
func (p *Position) RemainingFraction() float64 {
	return 1.0 - p.SoldFraction
}

// Candidate is a transient per-scan-cycle buy candidate.
type Candidate struct {
	Symbol   string            `json:"symbol"`
	Sector   string            `json:"sector"`
	Price    decimal.Decimal   `json:"price"` // Reference price at scan time
	ATR      decimal.Decimal   `json:"atr"`   // Zero when unknown
	Strategy StrategyID        `json:"strategy"`
	Signal   SignalKind        `json:"signal"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
	BearHint string            `json:"bearHint,omitempty"` // External bear-strategy authorization
}

// SizingResult contains the calculated order quantity.
type SizingResult struct {
	Quantity      int64           `json:"quantity"`
	PositionValue decimal.Decimal `json:"positionValue"`
	RiskAmount    decimal.Decimal `json:"riskAmount"`
	Reason        string          `json:"reason,omitempty"` // Set when quantity is zero
}

// ConcentrationTier grades how close an approved trade sits to its limits.
type ConcentrationTier string

const (
	ConcentrationLow    ConcentrationTier = "low"
	ConcentrationMedium ConcentrationTier = "medium"
	ConcentrationHigh   ConcentrationTier = "high"
)

// DiversificationResult is the outcome of a concentration check.
type DiversificationResult struct {
	Approved          bool              `json:"approved"`
	Reason            string            `json:"reason,omitempty"`
	SectorExposurePct float64           `json:"sectorExposurePct"` // Projected, post-trade
	StockExposurePct  float64           `json:"stockExposurePct"`  // Projected, post-trade
	Tier              ConcentrationTier `json:"tier"`
	ResizedQuantity   int64             `json:"resizedQuantity,omitempty"` // Max quantity fitting the violated limit
}

// TradeLogEntry is an append-only record of an accepted buy or sell.
type TradeLogEntry struct {
	ID         string            `json:"id"`
	OrderID    string            `json:"orderId"`
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Quantity   int64             `json:"quantity"`
	Price      decimal.Decimal   `json:"price"`
	Reason     string            `json:"reason"`
	Strategy   StrategyID        `json:"strategy,omitempty"`
	Signal     SignalKind        `json:"signal,omitempty"`
	Regime     Regime            `json:"regime"`
	Risk       RiskSetting       `json:"risk"`
	Metrics    map[string]string `json:"metrics,omitempty"`
	PnL        decimal.Decimal   `json:"pnl"`
	ExecutedAt time.Time         `json:"executedAt"`
}

// WatchlistItem is a candidate instrument with last-known quality metadata.
type WatchlistItem struct {
	Symbol    string          `json:"symbol"`
	Sector    string          `json:"sector"`
	Score     float64         `json:"score"`
	BearHint  string          `json:"bearHint,omitempty"`
	LastClose decimal.Decimal `json:"lastClose"`
}
