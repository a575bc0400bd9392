package propagator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"cpiweights/internal/core"
)

// Policy controls what happens when a (category, month) cell cannot be
// computed because an observation or anchor weight is missing.
type Policy string

const (
	// PolicySkip drops the category for that month, records it in the
	// coverage report and carries on. This matches the source data's known
	// gaps: some subcategories lack anchor weights in some years.
	PolicySkip Policy = "skip"

	// PolicyStrict fails the month on the first missing cell.
	PolicyStrict Policy = "strict"
)

// Config holds propagator settings.
type Config struct {
	Policy Policy

	// CoverageTolerance is how many index points the per-month coverage
	// total may deviate from 100 before it is flagged.
	CoverageTolerance float64

	// AllItems is the label of the headline row in the index table. Source
	// datasets name it differently ("All items", "Indice generale").
	AllItems string
}

// DefaultConfig returns the reference behavior: skip missing cells, flag
// coverage drifting more than 2 points from 100.
func DefaultConfig() Config {
	return Config{
		Policy:            PolicySkip,
		CoverageTolerance: 2.0,
		AllItems:          core.AllItems,
	}
}

// Propagator reconstructs monthly category weights from December anchors and
// the price-index table. Each month is an independent fold over the fixed
// tables; there is no cross-month state.
type Propagator struct {
	tables *Tables
	config Config
}

func New(tables *Tables, config Config) *Propagator {
	if config.Policy == "" {
		config.Policy = PolicySkip
	}
	if config.CoverageTolerance <= 0 {
		config.CoverageTolerance = DefaultConfig().CoverageTolerance
	}
	if config.AllItems == "" {
		config.AllItems = core.AllItems
	}
	return &Propagator{tables: tables, config: config}
}

// ComputeMonth produces the full weight set for one target month.
//
// Anchor months (December) take their weights straight from the anchor
// table. Any other month m scales the preceding December's anchors by each
// category's index growth since that December, then renormalizes by the
// AllItems growth over the same interval so that weighted component growth
// reproduces headline growth by construction.
//
// A missing AllItems observation fails the month under either policy: without
// the headline growth factor no category can be renormalized.
func (p *Propagator) ComputeMonth(m core.Month) (core.MonthWeights, error) {
	if err := m.Validate(); err != nil {
		return core.MonthWeights{}, fmt.Errorf("compute month: %w", err)
	}

	allItems := p.config.AllItems

	weights := []core.Weight{{
		Category:   allItems,
		Month:      m,
		Value:      core.AnchorTotal,
		AnchorYear: m.AnchorYear(),
	}}

	var skipped []string
	total := 0.0

	if m.IsAnchor() {
		for _, c := range p.tables.Categories() {
			if c == allItems {
				continue
			}
			anchor, ok := p.tables.Anchor(c, m.Year)
			if !ok {
				if p.config.Policy == PolicyStrict {
					return core.MonthWeights{}, &core.MissingAnchorWeightError{Category: c, Year: m.Year}
				}
				skipped = append(skipped, c)
				continue
			}
			weights = append(weights, core.Weight{
				Category:   c,
				Month:      m,
				Value:      anchor,
				AnchorYear: m.Year,
			})
			total += anchor
		}
		return p.finish(m, weights, total, skipped), nil
	}

	base := m.Base()
	anchorYear := m.AnchorYear()

	allTarget, ok := p.tables.Index(allItems, m)
	if !ok {
		return core.MonthWeights{}, &core.MissingObservationError{Category: allItems, Month: m, Role: core.RoleTarget}
	}
	allBase, ok := p.tables.Index(allItems, base)
	if !ok {
		return core.MonthWeights{}, &core.MissingObservationError{Category: allItems, Month: base, Role: core.RoleBase}
	}
	growthAll := allTarget / allBase

	for _, c := range p.tables.Categories() {
		if c == allItems {
			continue
		}
		w, err := p.computeCell(c, m, base, anchorYear, growthAll)
		if err != nil {
			if p.config.Policy == PolicyStrict {
				return core.MonthWeights{}, err
			}
			skipped = append(skipped, c)
			continue
		}
		weights = append(weights, w)
		total += w.Value
	}

	return p.finish(m, weights, total, skipped), nil
}

// computeCell derives one (category, month) weight. Errors are the typed
// missing-cell errors and are scoped to this cell only.
func (p *Propagator) computeCell(c string, m, base core.Month, anchorYear int, growthAll float64) (core.Weight, error) {
	anchor, ok := p.tables.Anchor(c, anchorYear)
	if !ok {
		return core.Weight{}, &core.MissingAnchorWeightError{Category: c, Year: anchorYear}
	}
	target, ok := p.tables.Index(c, m)
	if !ok {
		return core.Weight{}, &core.MissingObservationError{Category: c, Month: m, Role: core.RoleTarget}
	}
	baseVal, ok := p.tables.Index(c, base)
	if !ok {
		return core.Weight{}, &core.MissingObservationError{Category: c, Month: base, Role: core.RoleBase}
	}

	growth := target / baseVal
	return core.Weight{
		Category:   c,
		Month:      m,
		Value:      growth * anchor / growthAll,
		AnchorYear: anchorYear,
	}, nil
}

func (p *Propagator) finish(m core.Month, weights []core.Weight, total float64, skipped []string) core.MonthWeights {
	sort.Strings(skipped)
	cov := core.Coverage{Month: m, Total: total, Skipped: skipped}
	if len(skipped) > 0 || !cov.Within(p.config.CoverageTolerance) {
		slog.Warn("weight coverage below nominal total",
			"month", m.String(),
			"total", cov.Total,
			"delta", cov.Delta(),
			"skipped", len(skipped))
	}
	return core.MonthWeights{Month: m, Weights: weights, Coverage: cov}
}

// Compute folds ComputeMonth over the target months in order, returning one
// immutable result per month. A month-level failure aborts the fold and
// names the failed month.
func (p *Propagator) Compute(months []core.Month) ([]core.MonthWeights, error) {
	out := make([]core.MonthWeights, 0, len(months))
	for _, m := range months {
		mw, err := p.ComputeMonth(m)
		if err != nil {
			return nil, fmt.Errorf("month %s: %w", m, err)
		}
		out = append(out, mw)
	}
	return out, nil
}

// ComputeRange computes every month in [from, to]. Since all anchors are
// loaded up front, years are independent and computed in parallel; results
// come back in calendar order regardless.
func (p *Propagator) ComputeRange(ctx context.Context, from, to core.Month) ([]core.MonthWeights, error) {
	months := core.MonthRange(from, to)
	if len(months) == 0 {
		return nil, nil
	}

	results := make([]core.MonthWeights, len(months))
	g, ctx := errgroup.WithContext(ctx)

	byYear := map[int][]int{}
	for i, m := range months {
		byYear[m.Year] = append(byYear[m.Year], i)
	}

	for _, idxs := range byYear {
		idxs := idxs
		g.Go(func() error {
			for _, i := range idxs {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				mw, err := p.ComputeMonth(months[i])
				if err != nil {
					return fmt.Errorf("month %s: %w", months[i], err)
				}
				results[i] = mw
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
