package core

import "fmt"

// MonthRole identifies which side of a growth ratio a missing observation
// belongs to, so callers can tell a hole at the target month from a hole at
// the December base.
type MonthRole string

const (
	RoleTarget MonthRole = "target"
	RoleBase   MonthRole = "base"
)

// MissingObservationError reports an absent price-index cell. It names the
// category, the month, and whether the month was needed as target or base.
type MissingObservationError struct {
	Category string
	Month    Month
	Role     MonthRole
}

func (e *MissingObservationError) Error() string {
	return fmt.Sprintf("missing price index observation for %q at %s (%s month)",
		e.Category, e.Month, e.Role)
}

// MissingAnchorWeightError reports an absent December anchor weight.
type MissingAnchorWeightError struct {
	Category string
	Year     int
}

func (e *MissingAnchorWeightError) Error() string {
	return fmt.Sprintf("missing anchor weight for %q in December %d", e.Category, e.Year)
}
