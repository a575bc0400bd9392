package adapters

import (
	"context"

	"cpiweights/internal/core"
	"cpiweights/internal/services"
	"cpiweights/internal/storage"
)

// SQLiteAdapter adapts SQLiteRepository and WeightService to the tables
// ports. Reads go straight to the repository; writes go through the service
// so every ingest schedules the recomputes it invalidates.
type SQLiteAdapter struct {
	storage *storage.SQLiteRepository
	service *services.WeightService
}

func NewSQLiteAdapter(storage *storage.SQLiteRepository, service *services.WeightService) *SQLiteAdapter {
	return &SQLiteAdapter{
		storage: storage,
		service: service,
	}
}

// ReadSeries implements tables.SeriesReader.
func (a *SQLiteAdapter) ReadSeries(ctx context.Context, from, to core.Month) ([]core.Observation, error) {
	return a.storage.ReadSeries(ctx, from, to)
}

// ReadAnchors implements tables.AnchorReader.
func (a *SQLiteAdapter) ReadAnchors(ctx context.Context, fromYear, toYear int) ([]core.AnchorWeight, error) {
	return a.storage.ReadAnchors(ctx, fromYear, toYear)
}

// ReadGroups implements tables.GroupReader.
func (a *SQLiteAdapter) ReadGroups(ctx context.Context) ([]core.CategoryGroup, error) {
	return a.storage.ReadGroups(ctx)
}

// WriteMonthWeights implements tables.WeightWriter.
func (a *SQLiteAdapter) WriteMonthWeights(ctx context.Context, mw core.MonthWeights) error {
	return a.storage.WriteMonthWeights(ctx, mw)
}

// ReadMonthWeights implements tables.WeightReader.
func (a *SQLiteAdapter) ReadMonthWeights(ctx context.Context, m core.Month) (core.MonthWeights, error) {
	return a.storage.ReadMonthWeights(ctx, m)
}

// AppendObservation implements tables.ObservationWriter.
func (a *SQLiteAdapter) AppendObservation(ctx context.Context, o core.Observation) (string, error) {
	return a.service.AddObservation(ctx, o)
}

// AppendAnchor implements tables.ObservationWriter.
func (a *SQLiteAdapter) AppendAnchor(ctx context.Context, w core.AnchorWeight) (string, error) {
	return a.service.AddAnchor(ctx, w)
}
