package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cpiweights/internal/core"
	"cpiweights/internal/tables"

	_ "modernc.org/sqlite"
)

// ErrNoWeights is returned when a month has no computed weights yet. Every
// weight reader shares the sentinel so callers match it regardless of backend.
var ErrNoWeights = tables.ErrNoWeights

// RecomputeTask is a claimed entry of the recompute queue.
type RecomputeTask struct {
	ID       int64
	Month    core.Month
	Reason   string
	Attempts int64
}

// SQLiteRepository persists observations, anchor weights, category groups and
// computed weights, and carries the recompute queue the worker drains.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var (
	_ tables.SeriesReader      = (*SQLiteRepository)(nil)
	_ tables.AnchorReader      = (*SQLiteRepository)(nil)
	_ tables.GroupReader       = (*SQLiteRepository)(nil)
	_ tables.WeightWriter      = (*SQLiteRepository)(nil)
	_ tables.WeightReader      = (*SQLiteRepository)(nil)
	_ tables.ObservationWriter = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// AppendObservation implements tables.ObservationWriter. An existing cell for
// the same category and month is overwritten, matching how agencies revise
// published index values.
func (r *SQLiteRepository) AppendObservation(ctx context.Context, o core.Observation) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	row, err := r.queries.UpsertObservation(ctx, UpsertObservationParams{
		Category: o.Category,
		Year:     int64(o.Month.Year),
		Month:    int64(o.Month.Month),
		Value:    o.Value,
	})
	if err != nil {
		return "", fmt.Errorf("upsert observation: %w", err)
	}

	slog.InfoContext(ctx, "Observation saved to SQLite",
		"id", row.ID,
		"category", row.Category,
		"month", o.Month.String(),
		"value", row.Value)

	return strconv.FormatInt(row.ID, 10), nil
}

// AppendAnchor implements tables.ObservationWriter.
func (r *SQLiteRepository) AppendAnchor(ctx context.Context, a core.AnchorWeight) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	row, err := r.queries.UpsertAnchorWeight(ctx, UpsertAnchorWeightParams{
		Category: a.Category,
		Year:     int64(a.Year),
		Value:    a.Value,
	})
	if err != nil {
		return "", fmt.Errorf("upsert anchor weight: %w", err)
	}

	slog.InfoContext(ctx, "Anchor weight saved to SQLite",
		"id", row.ID,
		"category", row.Category,
		"anchor_year", row.Year,
		"value", row.Value)

	return strconv.FormatInt(row.ID, 10), nil
}

// ReadSeries implements tables.SeriesReader.
func (r *SQLiteRepository) ReadSeries(ctx context.Context, from, to core.Month) ([]core.Observation, error) {
	rows, err := r.queries.GetObservationsInRange(ctx, monthKey(from), monthKey(to))
	if err != nil {
		return nil, fmt.Errorf("get observations: %w", err)
	}
	obs := make([]core.Observation, len(rows))
	for i, row := range rows {
		obs[i] = core.Observation{
			Category: row.Category,
			Month:    core.NewMonth(int(row.Year), time.Month(row.Month)),
			Value:    row.Value,
		}
	}
	return obs, nil
}

// ReadAnchors implements tables.AnchorReader.
func (r *SQLiteRepository) ReadAnchors(ctx context.Context, fromYear, toYear int) ([]core.AnchorWeight, error) {
	rows, err := r.queries.GetAnchorWeights(ctx, int64(fromYear), int64(toYear))
	if err != nil {
		return nil, fmt.Errorf("get anchor weights: %w", err)
	}
	anchors := make([]core.AnchorWeight, len(rows))
	for i, row := range rows {
		anchors[i] = core.AnchorWeight{
			Category: row.Category,
			Year:     int(row.Year),
			Value:    row.Value,
		}
	}
	return anchors, nil
}

// ReadGroups implements tables.GroupReader.
func (r *SQLiteRepository) ReadGroups(ctx context.Context) ([]core.CategoryGroup, error) {
	rows, err := r.queries.GetCategoryGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get category groups: %w", err)
	}
	groups := make([]core.CategoryGroup, len(rows))
	for i, row := range rows {
		groups[i] = core.CategoryGroup{Category: row.Category, Group: row.GroupName}
	}
	return groups, nil
}

// UpsertGroup stores one category-to-group mapping row.
func (r *SQLiteRepository) UpsertGroup(ctx context.Context, g core.CategoryGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := r.queries.UpsertCategoryGroup(ctx, g.Category, g.Group); err != nil {
		return fmt.Errorf("upsert category group: %w", err)
	}
	return nil
}

// WriteMonthWeights implements tables.WeightWriter. The month's previous
// result is replaced wholesale so a recompute never leaves stale rows behind.
func (r *SQLiteRepository) WriteMonthWeights(ctx context.Context, mw core.MonthWeights) error {
	year, month := int64(mw.Month.Year), int64(mw.Month.Month)

	if err := r.queries.DeleteMonthWeights(ctx, year, month); err != nil {
		return fmt.Errorf("delete month weights: %w", err)
	}
	for _, w := range mw.Weights {
		err := r.queries.InsertComputedWeight(ctx, InsertComputedWeightParams{
			Category:   w.Category,
			Year:       year,
			Month:      month,
			Value:      w.Value,
			AnchorYear: int64(w.AnchorYear),
		})
		if err != nil {
			return fmt.Errorf("insert weight for %s: %w", w.Category, err)
		}
	}

	skipped, err := json.Marshal(mw.Coverage.Skipped)
	if err != nil {
		return fmt.Errorf("encode skipped categories: %w", err)
	}
	err = r.queries.UpsertMonthCoverage(ctx, UpsertMonthCoverageParams{
		Year:    year,
		Month:   month,
		Total:   mw.Coverage.Total,
		Skipped: string(skipped),
	})
	if err != nil {
		return fmt.Errorf("upsert month coverage: %w", err)
	}

	slog.InfoContext(ctx, "Month weights saved to SQLite",
		"month", mw.Month.String(),
		"weights", len(mw.Weights),
		"coverage", mw.Coverage.Total)

	return nil
}

// ReadMonthWeights implements tables.WeightReader.
func (r *SQLiteRepository) ReadMonthWeights(ctx context.Context, m core.Month) (core.MonthWeights, error) {
	year, month := int64(m.Year), int64(m.Month)

	rows, err := r.queries.GetMonthWeights(ctx, year, month)
	if err != nil {
		return core.MonthWeights{}, fmt.Errorf("get month weights: %w", err)
	}
	if len(rows) == 0 {
		return core.MonthWeights{}, fmt.Errorf("%w: %s", ErrNoWeights, m)
	}

	mw := core.MonthWeights{Month: m, Weights: make([]core.Weight, len(rows))}
	for i, row := range rows {
		mw.Weights[i] = core.Weight{
			Category:   row.Category,
			Month:      m,
			Value:      row.Value,
			AnchorYear: int(row.AnchorYear),
		}
	}

	cov, err := r.queries.GetMonthCoverage(ctx, year, month)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		mw.Coverage = core.Coverage{Month: m}
	case err != nil:
		return core.MonthWeights{}, fmt.Errorf("get month coverage: %w", err)
	default:
		mw.Coverage = core.Coverage{Month: m, Total: cov.Total}
		if cov.Skipped != "" {
			if err := json.Unmarshal([]byte(cov.Skipped), &mw.Coverage.Skipped); err != nil {
				return core.MonthWeights{}, fmt.Errorf("decode skipped categories: %w", err)
			}
		}
	}

	return mw, nil
}

// EnqueueRecompute records that a month needs recomputation. A month already
// pending or processing is not enqueued twice.
func (r *SQLiteRepository) EnqueueRecompute(ctx context.Context, m core.Month, reason string) error {
	if err := r.queries.EnqueueRecompute(ctx, int64(m.Year), int64(m.Month), reason); err != nil {
		return fmt.Errorf("enqueue recompute: %w", err)
	}
	return nil
}

// ClaimPendingRecomputes atomically moves up to limit pending tasks to
// processing and returns the claimed ones.
func (r *SQLiteRepository) ClaimPendingRecomputes(ctx context.Context, limit int) ([]RecomputeTask, error) {
	rows, err := r.queries.GetPendingRecomputes(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending recomputes: %w", err)
	}

	var claimed []RecomputeTask
	for _, row := range rows {
		ok, err := r.queries.MarkRecomputeProcessing(ctx, row.ID)
		if err != nil {
			return claimed, fmt.Errorf("claim recompute %d: %w", row.ID, err)
		}
		if !ok {
			// Another worker claimed it first.
			continue
		}
		claimed = append(claimed, RecomputeTask{
			ID:       row.ID,
			Month:    core.NewMonth(int(row.Year), time.Month(row.Month)),
			Reason:   row.Reason,
			Attempts: row.Attempts + 1,
		})
	}
	return claimed, nil
}

// MarkRecomputeCompleted marks a claimed task done.
func (r *SQLiteRepository) MarkRecomputeCompleted(ctx context.Context, id int64) error {
	if err := r.queries.MarkRecomputeCompleted(ctx, id); err != nil {
		return fmt.Errorf("mark recompute completed: %w", err)
	}
	return nil
}

// MarkRecomputeFailed sends a task back to pending until maxAttempts is
// reached, then parks it in error state.
func (r *SQLiteRepository) MarkRecomputeFailed(ctx context.Context, id int64, maxAttempts int) error {
	if err := r.queries.MarkRecomputeError(ctx, id, int64(maxAttempts)); err != nil {
		return fmt.Errorf("mark recompute failed: %w", err)
	}
	return nil
}

// CompleteRecomputesForMonth settles any open queue entries for a month that
// was just recomputed through another path, so the poller does not redo it.
func (r *SQLiteRepository) CompleteRecomputesForMonth(ctx context.Context, m core.Month) error {
	if err := r.queries.CompleteRecomputesForMonth(ctx, int64(m.Year), int64(m.Month)); err != nil {
		return fmt.Errorf("complete recomputes for %s: %w", m, err)
	}
	return nil
}

// ResetStaleRecomputes returns tasks stuck in processing to pending. A worker
// crash mid-batch otherwise strands them forever.
func (r *SQLiteRepository) ResetStaleRecomputes(ctx context.Context) error {
	n, err := r.queries.ResetStaleRecomputes(ctx)
	if err != nil {
		return fmt.Errorf("reset stale recomputes: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset stale recompute tasks", "count", n)
	}
	return nil
}

// CleanupCompletedRecomputes removes completed queue entries older than maxAge.
func (r *SQLiteRepository) CleanupCompletedRecomputes(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := r.queries.DeleteCompletedRecomputesBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("cleanup recompute queue: %w", err)
	}
	return n, nil
}

// monthKey flattens a month to a sortable year*100+month integer.
func monthKey(m core.Month) int64 {
	return int64(m.Year)*100 + int64(m.Month)
}
