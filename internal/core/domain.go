package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// AllItems is the aggregate pseudo-category. Its weight is 100 by definition
// at every month, anchor or not.
const AllItems = "All items"

// AnchorTotal is the nominal sum of category weights at any month.
const AnchorTotal = 100.0

type (
	// Month is a calendar month, the finest time grain in the system.
	Month struct {
		Year  int
		Month time.Month
	}

	// Observation is a single price-index cell: one category at one month.
	Observation struct {
		Category string
		Month    Month
		Value    float64
	}

	// AnchorWeight is a directly observed December weight for a category.
	AnchorWeight struct {
		Category string
		Year     int
		Value    float64
	}

	// Weight is a computed weight cell. AnchorYear records which December
	// anchor it was propagated from.
	Weight struct {
		Category   string
		Month      Month
		Value      float64
		AnchorYear int
	}

	// CategoryGroup assigns a category to a broader group (Goods, Food,
	// Energy, Services). The mapping is declarative configuration, never
	// inferred from table row order.
	CategoryGroup struct {
		Category string
		Group    string
	}
)

var (
	ErrEmptyCategory    = errors.New("empty category name")
	ErrNonPositiveIndex = errors.New("price index value must be positive")
	ErrNegativeWeight   = errors.New("anchor weight must be non-negative")
	ErrInvalidMonth     = errors.New("invalid month")
)

// NewMonth builds a Month from a year and a 1-12 month number.
func NewMonth(year int, month time.Month) Month {
	return Month{Year: year, Month: month}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, ErrInvalidMonth)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) Validate() error {
	if m.Year < 1900 || m.Year > 3000 {
		return ErrInvalidMonth
	}
	if m.Month < time.January || m.Month > time.December {
		return ErrInvalidMonth
	}
	return nil
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// IsAnchor reports whether m is an anchor month (December).
func (m Month) IsAnchor() bool {
	return m.Month == time.December
}

// Base returns the reference month for weight propagation: December of the
// year preceding m. A December is its own base, since its weights are
// assigned from the anchor table rather than propagated.
func (m Month) Base() Month {
	if m.IsAnchor() {
		return m
	}
	return Month{Year: m.Year - 1, Month: time.December}
}

// AnchorYear returns the year whose December anchor governs m.
func (m Month) AnchorYear() int {
	if m.IsAnchor() {
		return m.Year
	}
	return m.Year - 1
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// MonthRange returns every month from from to to inclusive.
func MonthRange(from, to Month) []Month {
	if to.Before(from) {
		return nil
	}
	var out []Month
	for m := from; !to.Before(m); m = m.Next() {
		out = append(out, m)
	}
	return out
}

func (o Observation) Validate() error {
	if strings.TrimSpace(o.Category) == "" {
		return ErrEmptyCategory
	}
	if err := o.Month.Validate(); err != nil {
		return err
	}
	if o.Value <= 0 || math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return ErrNonPositiveIndex
	}
	return nil
}

func (a AnchorWeight) Validate() error {
	if strings.TrimSpace(a.Category) == "" {
		return ErrEmptyCategory
	}
	if a.Year < 1900 || a.Year > 3000 {
		return ErrInvalidMonth
	}
	if a.Value < 0 || math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
		return ErrNegativeWeight
	}
	return nil
}

func (g CategoryGroup) Validate() error {
	if strings.TrimSpace(g.Category) == "" || strings.TrimSpace(g.Group) == "" {
		return ErrEmptyCategory
	}
	return nil
}
