package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type ObservationRow struct {
	ID        int64
	Category  string
	Year      int64
	Month     int64
	Value     float64
	CreatedAt sql.NullTime
}

type AnchorWeightRow struct {
	ID        int64
	Category  string
	Year      int64
	Value     float64
	CreatedAt sql.NullTime
}

type CategoryGroupRow struct {
	Category  string
	GroupName string
}

type ComputedWeightRow struct {
	Category   string
	Year       int64
	Month      int64
	Value      float64
	AnchorYear int64
}

type MonthCoverageRow struct {
	Year    int64
	Month   int64
	Total   float64
	Skipped string
}

type RecomputeTaskRow struct {
	ID        int64
	Year      int64
	Month     int64
	Reason    string
	Status    string
	Attempts  int64
	CreatedAt sql.NullTime
	UpdatedAt sql.NullTime
}

const upsertObservation = `
INSERT INTO observations (category, year, month, value)
VALUES (?, ?, ?, ?)
ON CONFLICT (category, year, month) DO UPDATE SET value = excluded.value
RETURNING id, category, year, month, value, created_at
`

type UpsertObservationParams struct {
	Category string
	Year     int64
	Month    int64
	Value    float64
}

func (q *Queries) UpsertObservation(ctx context.Context, arg UpsertObservationParams) (ObservationRow, error) {
	row := q.db.QueryRowContext(ctx, upsertObservation, arg.Category, arg.Year, arg.Month, arg.Value)
	var o ObservationRow
	err := row.Scan(&o.ID, &o.Category, &o.Year, &o.Month, &o.Value, &o.CreatedAt)
	return o, err
}

const getObservationsInRange = `
SELECT id, category, year, month, value, created_at
FROM observations
WHERE (year * 100 + month) BETWEEN ? AND ?
ORDER BY year, month, category
`

func (q *Queries) GetObservationsInRange(ctx context.Context, from, to int64) ([]ObservationRow, error) {
	rows, err := q.db.QueryContext(ctx, getObservationsInRange, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ObservationRow
	for rows.Next() {
		var o ObservationRow
		if err := rows.Scan(&o.ID, &o.Category, &o.Year, &o.Month, &o.Value, &o.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const upsertAnchorWeight = `
INSERT INTO anchor_weights (category, year, value)
VALUES (?, ?, ?)
ON CONFLICT (category, year) DO UPDATE SET value = excluded.value
RETURNING id, category, year, value, created_at
`

type UpsertAnchorWeightParams struct {
	Category string
	Year     int64
	Value    float64
}

func (q *Queries) UpsertAnchorWeight(ctx context.Context, arg UpsertAnchorWeightParams) (AnchorWeightRow, error) {
	row := q.db.QueryRowContext(ctx, upsertAnchorWeight, arg.Category, arg.Year, arg.Value)
	var a AnchorWeightRow
	err := row.Scan(&a.ID, &a.Category, &a.Year, &a.Value, &a.CreatedAt)
	return a, err
}

const getAnchorWeights = `
SELECT id, category, year, value, created_at
FROM anchor_weights
WHERE year BETWEEN ? AND ?
ORDER BY year, category
`

func (q *Queries) GetAnchorWeights(ctx context.Context, fromYear, toYear int64) ([]AnchorWeightRow, error) {
	rows, err := q.db.QueryContext(ctx, getAnchorWeights, fromYear, toYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AnchorWeightRow
	for rows.Next() {
		var a AnchorWeightRow
		if err := rows.Scan(&a.ID, &a.Category, &a.Year, &a.Value, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const upsertCategoryGroup = `
INSERT INTO category_groups (category, group_name)
VALUES (?, ?)
ON CONFLICT (category) DO UPDATE SET group_name = excluded.group_name
`

func (q *Queries) UpsertCategoryGroup(ctx context.Context, category, groupName string) error {
	_, err := q.db.ExecContext(ctx, upsertCategoryGroup, category, groupName)
	return err
}

const getCategoryGroups = `
SELECT category, group_name FROM category_groups ORDER BY category
`

func (q *Queries) GetCategoryGroups(ctx context.Context) ([]CategoryGroupRow, error) {
	rows, err := q.db.QueryContext(ctx, getCategoryGroups)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryGroupRow
	for rows.Next() {
		var g CategoryGroupRow
		if err := rows.Scan(&g.Category, &g.GroupName); err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

const deleteMonthWeights = `
DELETE FROM computed_weights WHERE year = ? AND month = ?
`

func (q *Queries) DeleteMonthWeights(ctx context.Context, year, month int64) error {
	_, err := q.db.ExecContext(ctx, deleteMonthWeights, year, month)
	return err
}

const insertComputedWeight = `
INSERT INTO computed_weights (category, year, month, value, anchor_year)
VALUES (?, ?, ?, ?, ?)
`

type InsertComputedWeightParams struct {
	Category   string
	Year       int64
	Month      int64
	Value      float64
	AnchorYear int64
}

func (q *Queries) InsertComputedWeight(ctx context.Context, arg InsertComputedWeightParams) error {
	_, err := q.db.ExecContext(ctx, insertComputedWeight,
		arg.Category, arg.Year, arg.Month, arg.Value, arg.AnchorYear)
	return err
}

const getMonthWeights = `
SELECT category, year, month, value, anchor_year
FROM computed_weights
WHERE year = ? AND month = ?
ORDER BY category
`

func (q *Queries) GetMonthWeights(ctx context.Context, year, month int64) ([]ComputedWeightRow, error) {
	rows, err := q.db.QueryContext(ctx, getMonthWeights, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ComputedWeightRow
	for rows.Next() {
		var w ComputedWeightRow
		if err := rows.Scan(&w.Category, &w.Year, &w.Month, &w.Value, &w.AnchorYear); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const upsertMonthCoverage = `
INSERT INTO month_coverage (year, month, total, skipped, computed_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (year, month) DO UPDATE SET
    total = excluded.total,
    skipped = excluded.skipped,
    computed_at = CURRENT_TIMESTAMP
`

type UpsertMonthCoverageParams struct {
	Year    int64
	Month   int64
	Total   float64
	Skipped string
}

func (q *Queries) UpsertMonthCoverage(ctx context.Context, arg UpsertMonthCoverageParams) error {
	_, err := q.db.ExecContext(ctx, upsertMonthCoverage, arg.Year, arg.Month, arg.Total, arg.Skipped)
	return err
}

const getMonthCoverage = `
SELECT year, month, total, skipped
FROM month_coverage
WHERE year = ? AND month = ?
`

func (q *Queries) GetMonthCoverage(ctx context.Context, year, month int64) (MonthCoverageRow, error) {
	row := q.db.QueryRowContext(ctx, getMonthCoverage, year, month)
	var c MonthCoverageRow
	err := row.Scan(&c.Year, &c.Month, &c.Total, &c.Skipped)
	return c, err
}

const enqueueRecompute = `
INSERT INTO recompute_queue (year, month, reason)
SELECT ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM recompute_queue
    WHERE year = ?1 AND month = ?2 AND status IN ('pending', 'processing')
)
`

func (q *Queries) EnqueueRecompute(ctx context.Context, year, month int64, reason string) error {
	_, err := q.db.ExecContext(ctx, enqueueRecompute, year, month, reason)
	return err
}

const getPendingRecomputes = `
SELECT id, year, month, reason, status, attempts, created_at, updated_at
FROM recompute_queue
WHERE status = 'pending'
ORDER BY created_at
LIMIT ?
`

func (q *Queries) GetPendingRecomputes(ctx context.Context, limit int64) ([]RecomputeTaskRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingRecomputes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RecomputeTaskRow
	for rows.Next() {
		var t RecomputeTaskRow
		if err := rows.Scan(&t.ID, &t.Year, &t.Month, &t.Reason, &t.Status, &t.Attempts, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const markRecomputeProcessing = `
UPDATE recompute_queue
SET status = 'processing', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'pending'
`

func (q *Queries) MarkRecomputeProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, markRecomputeProcessing, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const markRecomputeCompleted = `
UPDATE recompute_queue
SET status = 'completed', updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`

func (q *Queries) MarkRecomputeCompleted(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markRecomputeCompleted, id)
	return err
}

const markRecomputeError = `
UPDATE recompute_queue
SET status = CASE WHEN attempts >= ? THEN 'error' ELSE 'pending' END,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`

func (q *Queries) MarkRecomputeError(ctx context.Context, id, maxAttempts int64) error {
	_, err := q.db.ExecContext(ctx, markRecomputeError, maxAttempts, id)
	return err
}

const completeRecomputesForMonth = `
UPDATE recompute_queue
SET status = 'completed', updated_at = CURRENT_TIMESTAMP
WHERE year = ? AND month = ? AND status IN ('pending', 'processing')
`

func (q *Queries) CompleteRecomputesForMonth(ctx context.Context, year, month int64) error {
	_, err := q.db.ExecContext(ctx, completeRecomputesForMonth, year, month)
	return err
}

const resetStaleRecomputes = `
UPDATE recompute_queue
SET status = 'pending', updated_at = CURRENT_TIMESTAMP
WHERE status = 'processing'
`

func (q *Queries) ResetStaleRecomputes(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, resetStaleRecomputes)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteCompletedRecomputesBefore = `
DELETE FROM recompute_queue
WHERE status = 'completed' AND updated_at < ?
`

func (q *Queries) DeleteCompletedRecomputesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// CURRENT_TIMESTAMP stores UTC "YYYY-MM-DD HH:MM:SS" text; the cutoff
	// must be bound in the same shape for the comparison to hold.
	res, err := q.db.ExecContext(ctx, deleteCompletedRecomputesBefore, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
