package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cpiweights/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "cpiweights.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestObservationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dec := core.NewMonth(2019, time.December)

	ref, err := repo.AppendObservation(ctx, core.Observation{Category: "Food", Month: dec, Value: 104.5})
	if err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}
	if ref == "" {
		t.Error("append should return a row reference")
	}

	// A second append for the same cell revises the value in place.
	if _, err := repo.AppendObservation(ctx, core.Observation{Category: "Food", Month: dec, Value: 104.9}); err != nil {
		t.Fatalf("revise observation: %v", err)
	}

	obs, err := repo.ReadSeries(ctx, dec, dec)
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(obs) != 1 || obs[0].Value != 104.9 {
		t.Errorf("expected single revised observation, got %v", obs)
	}
}

func TestReadSeriesRangeSpansYears(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, o := range []core.Observation{
		{Category: "A", Month: core.NewMonth(2019, time.November), Value: 1},
		{Category: "A", Month: core.NewMonth(2019, time.December), Value: 2},
		{Category: "A", Month: core.NewMonth(2020, time.January), Value: 3},
		{Category: "A", Month: core.NewMonth(2020, time.February), Value: 4},
	} {
		if _, err := repo.AppendObservation(ctx, o); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}

	obs, err := repo.ReadSeries(ctx, core.NewMonth(2019, time.December), core.NewMonth(2020, time.January))
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations across the year boundary, got %d", len(obs))
	}
	if obs[0].Value != 2 || obs[1].Value != 3 {
		t.Errorf("wrong rows in range: %v", obs)
	}
}

func TestAnchorsAndGroups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.AppendAnchor(ctx, core.AnchorWeight{Category: "Food", Year: 2019, Value: 13.9}); err != nil {
		t.Fatalf("AppendAnchor: %v", err)
	}
	if _, err := repo.AppendAnchor(ctx, core.AnchorWeight{Category: "Food", Year: 2019, Value: 14.1}); err != nil {
		t.Fatalf("revise anchor: %v", err)
	}

	anchors, err := repo.ReadAnchors(ctx, 2019, 2019)
	if err != nil {
		t.Fatalf("ReadAnchors: %v", err)
	}
	if len(anchors) != 1 || anchors[0].Value != 14.1 {
		t.Errorf("expected single revised anchor, got %v", anchors)
	}

	if err := repo.UpsertGroup(ctx, core.CategoryGroup{Category: "Gasoline", Group: "Energy"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	groups, err := repo.ReadGroups(ctx)
	if err != nil {
		t.Fatalf("ReadGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Group != "Energy" {
		t.Errorf("unexpected groups: %v", groups)
	}
}

func TestWriteMonthWeightsReplaces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := core.NewMonth(2020, time.March)

	if _, err := repo.ReadMonthWeights(ctx, m); !errors.Is(err, ErrNoWeights) {
		t.Errorf("expected ErrNoWeights before any write, got %v", err)
	}

	first := core.MonthWeights{
		Month: m,
		Weights: []core.Weight{
			{Category: core.AllItems, Month: m, Value: 100, AnchorYear: 2019},
			{Category: "Food", Month: m, Value: 13.9, AnchorYear: 2019},
			{Category: "Stale", Month: m, Value: 1, AnchorYear: 2019},
		},
		Coverage: core.Coverage{Month: m, Total: 14.9, Skipped: []string{"Orphan"}},
	}
	if err := repo.WriteMonthWeights(ctx, first); err != nil {
		t.Fatalf("WriteMonthWeights: %v", err)
	}

	second := core.MonthWeights{
		Month: m,
		Weights: []core.Weight{
			{Category: core.AllItems, Month: m, Value: 100, AnchorYear: 2019},
			{Category: "Food", Month: m, Value: 14.0, AnchorYear: 2019},
		},
		Coverage: core.Coverage{Month: m, Total: 14.0},
	}
	if err := repo.WriteMonthWeights(ctx, second); err != nil {
		t.Fatalf("WriteMonthWeights (recompute): %v", err)
	}

	got, err := repo.ReadMonthWeights(ctx, m)
	if err != nil {
		t.Fatalf("ReadMonthWeights: %v", err)
	}
	if len(got.Weights) != 2 {
		t.Fatalf("recompute must replace prior rows, got %d weights", len(got.Weights))
	}
	if _, ok := got.Find("Stale"); ok {
		t.Error("stale weight from the first run survived the recompute")
	}
	if got.Coverage.Total != 14.0 || len(got.Coverage.Skipped) != 0 {
		t.Errorf("coverage not replaced: %+v", got.Coverage)
	}
}

func TestRecomputeQueueLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := core.NewMonth(2020, time.April)

	if err := repo.EnqueueRecompute(ctx, m, "observation added"); err != nil {
		t.Fatalf("EnqueueRecompute: %v", err)
	}
	// Duplicate enqueue for a pending month is a no-op.
	if err := repo.EnqueueRecompute(ctx, m, "anchor added"); err != nil {
		t.Fatalf("EnqueueRecompute (duplicate): %v", err)
	}

	claimed, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected exactly one claimed task, got %d", len(claimed))
	}
	task := claimed[0]
	if task.Month != m || task.Attempts != 1 {
		t.Errorf("unexpected task: %+v", task)
	}

	// Nothing left to claim while the task is processing.
	again, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("processing task must not be claimable, got %v", again)
	}

	// A failure below maxAttempts goes back to pending.
	if err := repo.MarkRecomputeFailed(ctx, task.ID, 3); err != nil {
		t.Fatalf("MarkRecomputeFailed: %v", err)
	}
	retry, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	if len(retry) != 1 || retry[0].Attempts != 2 {
		t.Fatalf("failed task must become pending again, got %v", retry)
	}

	if err := repo.MarkRecomputeCompleted(ctx, task.ID); err != nil {
		t.Fatalf("MarkRecomputeCompleted: %v", err)
	}
	n, err := repo.CleanupCompletedRecomputes(ctx, -time.Second)
	if err != nil {
		t.Fatalf("CleanupCompletedRecomputes: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleaned up task, got %d", n)
	}
}

func TestRecomputeExhaustsAttempts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := core.NewMonth(2020, time.May)

	if err := repo.EnqueueRecompute(ctx, m, "test"); err != nil {
		t.Fatalf("EnqueueRecompute: %v", err)
	}

	const maxAttempts = 2
	for i := 0; i < maxAttempts; i++ {
		claimed, err := repo.ClaimPendingRecomputes(ctx, 1)
		if err != nil {
			t.Fatalf("ClaimPendingRecomputes: %v", err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: expected a claimable task", i+1)
		}
		if err := repo.MarkRecomputeFailed(ctx, claimed[0].ID, maxAttempts); err != nil {
			t.Fatalf("MarkRecomputeFailed: %v", err)
		}
	}

	claimed, err := repo.ClaimPendingRecomputes(ctx, 1)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	if len(claimed) != 0 {
		t.Error("task past maxAttempts must be parked in error state")
	}
}
