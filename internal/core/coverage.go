package core

import "math"

// Coverage summarizes how much of the nominal 100-point total the computed
// weights for a month account for. The total is a data-quality signal, not an
// enforced invariant: source tables have known gaps.
type Coverage struct {
	Month   Month
	Total   float64
	Skipped []string
}

// Delta returns how far the covered total is from the nominal 100.
func (c Coverage) Delta() float64 {
	return c.Total - AnchorTotal
}

// Within reports whether the coverage total is within tolerance points of
// the nominal 100.
func (c Coverage) Within(tolerance float64) bool {
	return math.Abs(c.Delta()) <= tolerance
}

// MonthWeights is the immutable result of one month's propagation: the
// computed weight rows plus the coverage achieved. Rows exclude AllItems'
// companions only when they were skipped; AllItems itself is always present.
type MonthWeights struct {
	Month    Month
	Weights  []Weight
	Coverage Coverage
}

// Find returns the weight for a category, if computed.
func (mw MonthWeights) Find(category string) (Weight, bool) {
	for _, w := range mw.Weights {
		if w.Category == category {
			return w, true
		}
	}
	return Weight{}, false
}
