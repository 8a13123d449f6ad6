package types

import "fmt"

// DecisionStatus classifies the outcome of a sizing, diversification or
// order-placement step.
type DecisionStatus string

const (
	DecisionApproved DecisionStatus = "approved"
	DecisionSkipped  DecisionStatus = "skipped"
	DecisionFailed   DecisionStatus = "failed"
)

// Decision is an explicit result type threaded through the decision path.
// Constraint violations and duplicate actions become Skipped with a reason,
// never errors; only genuine external failures become Failed.
type Decision struct {
	Status DecisionStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Err    error          `json:"-"`
}

// Approved returns an approved decision.
func Approved() Decision {
	return Decision{Status: DecisionApproved}
}

// Skipped returns a skipped decision with a structured reason.
func Skipped(format string, args ...any) Decision {
	return Decision{Status: DecisionSkipped, Reason: fmt.Sprintf(format, args...)}
}

// Failed wraps an external failure.
func Failed(err error) Decision {
	return Decision{Status: DecisionFailed, Reason: err.Error(), Err: err}
}

// IsApproved reports whether the decision allows the action to proceed.
func (d Decision) IsApproved() bool { return d.Status == DecisionApproved }
