package core

import "fmt"

// Rebase rescales a category's index series so that the value at base becomes
// 100. Input observations keep their identity; only values change. Returns
// MissingObservationError if the base month is absent from the series.
func Rebase(series []Observation, base Month) ([]Observation, error) {
	var baseValue float64
	found := false
	for _, o := range series {
		if o.Month == base {
			baseValue = o.Value
			found = true
			break
		}
	}
	if !found {
		category := ""
		if len(series) > 0 {
			category = series[0].Category
		}
		return nil, &MissingObservationError{Category: category, Month: base, Role: RoleBase}
	}
	if baseValue <= 0 {
		return nil, fmt.Errorf("rebase at %s: %w", base, ErrNonPositiveIndex)
	}

	out := make([]Observation, len(series))
	for i, o := range series {
		out[i] = Observation{
			Category: o.Category,
			Month:    o.Month,
			Value:    o.Value / baseValue * 100,
		}
	}
	return out, nil
}
