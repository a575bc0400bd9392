package services

import (
	"context"
	"fmt"
	"log/slog"

	"cpiweights/internal/core"
	"cpiweights/internal/propagator"
	"cpiweights/internal/tables"
)

// Recomputer loads the input tables for a month, runs the weight propagation
// and persists the result. It is shared by the HTTP API, the queue processor
// and the AMQP worker.
type Recomputer struct {
	series  tables.SeriesReader
	anchors tables.AnchorReader
	weights tables.WeightWriter
	config  propagator.Config
}

func NewRecomputer(
	series tables.SeriesReader,
	anchors tables.AnchorReader,
	weights tables.WeightWriter,
	config propagator.Config,
) *Recomputer {
	return &Recomputer{
		series:  series,
		anchors: anchors,
		weights: weights,
		config:  config,
	}
}

// RecomputeMonth computes and stores the weights of a single month.
func (r *Recomputer) RecomputeMonth(ctx context.Context, m core.Month) (core.MonthWeights, error) {
	if err := m.Validate(); err != nil {
		return core.MonthWeights{}, err
	}

	t, err := r.loadTables(ctx, m.Base(), m)
	if err != nil {
		return core.MonthWeights{}, err
	}

	mw, err := propagator.New(t, r.config).ComputeMonth(m)
	if err != nil {
		return core.MonthWeights{}, err
	}

	if err := r.weights.WriteMonthWeights(ctx, mw); err != nil {
		return core.MonthWeights{}, fmt.Errorf("store weights for %s: %w", m, err)
	}

	slog.InfoContext(ctx, "Recomputed month weights",
		"month", m.String(),
		"categories", len(mw.Weights),
		"coverage", mw.Coverage.Total,
		"skipped", len(mw.Coverage.Skipped))

	return mw, nil
}

// RecomputeRange computes and stores weights for every month in [from, to].
// Months of different years run in parallel; the returned slice is in
// calendar order.
func (r *Recomputer) RecomputeRange(ctx context.Context, from, to core.Month) ([]core.MonthWeights, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	t, err := r.loadTables(ctx, from.Base(), to)
	if err != nil {
		return nil, err
	}

	results, err := propagator.New(t, r.config).ComputeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	for _, mw := range results {
		if err := r.weights.WriteMonthWeights(ctx, mw); err != nil {
			return nil, fmt.Errorf("store weights for %s: %w", mw.Month, err)
		}
	}

	slog.InfoContext(ctx, "Recomputed month range",
		"from", from.String(),
		"to", to.String(),
		"months", len(results))

	return results, nil
}

// loadTables reads the observations and anchors that cover [from, to], where
// from is already the earliest base month needed.
func (r *Recomputer) loadTables(ctx context.Context, from, to core.Month) (*propagator.Tables, error) {
	obs, err := r.series.ReadSeries(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("read series: %w", err)
	}
	anchors, err := r.anchors.ReadAnchors(ctx, from.AnchorYear(), to.AnchorYear())
	if err != nil {
		return nil, fmt.Errorf("read anchors: %w", err)
	}
	return propagator.NewTables(obs, anchors), nil
}
