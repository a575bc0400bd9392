package propagator

import (
	"sort"

	"cpiweights/internal/core"
)

type indexKey struct {
	category string
	month    core.Month
}

type anchorKey struct {
	category string
	year     int
}

// Tables is the immutable lookup structure the propagator reads from: the
// monthly price-index table and the annual December anchor-weight table.
// Both are loaded once before propagation begins and never mutated.
type Tables struct {
	index      map[indexKey]float64
	anchors    map[anchorKey]float64
	categories []string
}

// NewTables builds lookups from raw rows. The category set is the union of
// categories seen in either table (the two are allowed to disagree; the
// propagation policy decides what happens to the difference). Categories are
// kept sorted so computation order is deterministic.
func NewTables(observations []core.Observation, anchors []core.AnchorWeight) *Tables {
	t := &Tables{
		index:   make(map[indexKey]float64, len(observations)),
		anchors: make(map[anchorKey]float64, len(anchors)),
	}

	seen := map[string]struct{}{}
	for _, o := range observations {
		t.index[indexKey{o.Category, o.Month}] = o.Value
		seen[o.Category] = struct{}{}
	}
	for _, a := range anchors {
		t.anchors[anchorKey{a.Category, a.Year}] = a.Value
		seen[a.Category] = struct{}{}
	}

	for c := range seen {
		if c == core.AllItems {
			continue
		}
		t.categories = append(t.categories, c)
	}
	sort.Strings(t.categories)

	return t
}

// Index returns the price-index value for a category at a month.
func (t *Tables) Index(category string, m core.Month) (float64, bool) {
	v, ok := t.index[indexKey{category, m}]
	return v, ok
}

// Anchor returns the December anchor weight for a category in a year.
func (t *Tables) Anchor(category string, year int) (float64, bool) {
	v, ok := t.anchors[anchorKey{category, year}]
	return v, ok
}

// Categories returns the sorted category set, AllItems excluded.
func (t *Tables) Categories() []string {
	out := make([]string, len(t.categories))
	copy(out, t.categories)
	return out
}
