package tables

import (
	"context"
	"errors"

	"cpiweights/internal/core"
)

// ErrNoWeights is returned by WeightReader implementations when a month has
// no computed weights stored yet.
var ErrNoWeights = errors.New("no computed weights for month")

// Ports for outbound table sources and sinks.
type (
	// SeriesReader provides price-index observations.
	SeriesReader interface {
		// ReadSeries returns every observation in [from, to], all categories.
		ReadSeries(ctx context.Context, from, to core.Month) ([]core.Observation, error)
	}

	// AnchorReader provides the annual December anchor-weight table.
	AnchorReader interface {
		// ReadAnchors returns every anchor weight for years [fromYear, toYear].
		ReadAnchors(ctx context.Context, fromYear, toYear int) ([]core.AnchorWeight, error)
	}

	// GroupReader provides the declarative category-to-group mapping.
	GroupReader interface {
		ReadGroups(ctx context.Context) ([]core.CategoryGroup, error)
	}

	// WeightWriter stores one month's computed weights, replacing any prior
	// result for that month.
	WeightWriter interface {
		WriteMonthWeights(ctx context.Context, mw core.MonthWeights) error
	}

	// WeightReader returns previously computed weights.
	WeightReader interface {
		ReadMonthWeights(ctx context.Context, m core.Month) (core.MonthWeights, error)
	}

	// ObservationWriter ingests new rows into the underlying tables.
	ObservationWriter interface {
		AppendObservation(ctx context.Context, o core.Observation) (rowRef string, err error)
		AppendAnchor(ctx context.Context, a core.AnchorWeight) (rowRef string, err error)
	}
)
