package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/stockpilot/engine/pkg/types"
)

// Summary aggregates the run into headline performance numbers.
type Summary struct {
	StartingCash   decimal.Decimal `json:"startingCash"`
	FinalEquity    decimal.Decimal `json:"finalEquity"`
	TotalReturnPct float64         `json:"totalReturnPct"`
	MaxDrawdownPct float64         `json:"maxDrawdownPct"`
	Sessions       int             `json:"sessions"`
	Buys           int             `json:"buys"`
	Sells          int             `json:"sells"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRatePct     float64         `json:"winRatePct"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
}

func summarize(startingCash decimal.Decimal, curve []EquityPoint, trades []*types.TradeLogEntry) Summary {
	s := Summary{
		StartingCash: startingCash,
		FinalEquity:  startingCash,
		Sessions:     len(curve),
		RealizedPnL:  decimal.Zero,
	}
	if len(curve) > 0 {
		s.FinalEquity = curve[len(curve)-1].Equity
	}
	if startingCash.GreaterThan(decimal.Zero) {
		s.TotalReturnPct = s.FinalEquity.Sub(startingCash).Div(startingCash).InexactFloat64() * 100
	}

	peak := startingCash
	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(pt.Equity).Div(peak).InexactFloat64() * 100
			if dd > s.MaxDrawdownPct {
				s.MaxDrawdownPct = dd
			}
		}
	}

	for _, t := range trades {
		switch t.Side {
		case types.SideBuy:
			s.Buys++
		case types.SideSell:
			s.Sells++
			s.RealizedPnL = s.RealizedPnL.Add(t.PnL)
			if t.PnL.GreaterThan(decimal.Zero) {
				s.Wins++
			} else {
				s.Losses++
			}
		}
	}
	if s.Wins+s.Losses > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.Wins+s.Losses) * 100
	}
	return s
}
