package analysis

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Weights say how much one violation and one warning cost.
type Weights struct {
	Violation decimal.Decimal
	Warning   decimal.Decimal
}

// DefaultWeights counts a warning as a quarter of a violation.
func DefaultWeights() Weights {
	return Weights{
		Violation: decimal.NewFromInt(1),
		Warning:   decimal.RequireFromString("0.25"),
	}
}

// NewWeights builds weights from configuration floats.
func NewWeights(violation, warning float64) Weights {
	return Weights{
		Violation: decimal.NewFromFloat(violation),
		Warning:   decimal.NewFromFloat(warning),
	}
}

// Score is 100 minus the weighted violation rate, clamped to [0, 100] and
// rounded half-up to two decimals. An empty period scores 100.
func Score(records, violations, warnings int, w Weights) decimal.Decimal {
	if records <= 0 {
		return hundred.Round(2)
	}
	penalty := decimal.NewFromInt(int64(violations)).Mul(w.Violation).
		Add(decimal.NewFromInt(int64(warnings)).Mul(w.Warning)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(records)))
	score := hundred.Sub(penalty)
	if score.IsNegative() {
		score = decimal.Zero
	}
	if score.GreaterThan(hundred) {
		score = hundred
	}
	return score.Round(2)
}
