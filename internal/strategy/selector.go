// Package strategy maps market regimes to active signal strategies and
// evaluates per-candidate entry signals.
package strategy

import (
	"strings"

	"github.com/stockpilot/engine/pkg/types"
)

// Selector is a pure mapping from regime to the ordered list of active
// strategies. Order is the tie-break priority for the scanner.
type Selector struct{}

// NewSelector creates a selector.
func NewSelector() *Selector { return &Selector{} }

// ActiveStrategies returns the strategies to evaluate for a regime. BEAR
// maps to an empty list (trading halted) unless bearHint authorizes one of
// the internal bear strategies for this candidate.
func (s *Selector) ActiveStrategies(regime types.Regime, bearHint string) []types.StrategyID {
	switch regime {
	case types.RegimeStrongBull:
		return []types.StrategyID{types.StrategyTrendFollowing, types.StrategyMeanReversion}
	case types.RegimeBull:
		return []types.StrategyID{types.StrategyMeanReversion, types.StrategyTrendFollowing}
	case types.RegimeSideways:
		return []types.StrategyID{types.StrategyMeanReversion}
	case types.RegimeBear:
		if id, ok := TranslateBearHint(bearHint); ok {
			return []types.StrategyID{id}
		}
		return nil
	default:
		return nil
	}
}

// TranslateBearHint maps an external bear-market strategy hint onto one of
// the two internal bear strategies.
func TranslateBearHint(hint string) (types.StrategyID, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(hint, "-", "_"))) {
	case "snipe_dip", "dip_buy", "dip":
		return types.StrategySnipeDip, true
	case "momentum_breakout", "breakout", "momentum":
		return types.StrategyMomentumBreakout, true
	default:
		return "", false
	}
}
