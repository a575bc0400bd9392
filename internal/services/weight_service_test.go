package services

import (
	"context"
	"testing"
	"time"

	"cpiweights/internal/core"
)

func TestAddObservationEnqueuesMonth(t *testing.T) {
	repo := newServiceTestRepo(t)
	svc := NewWeightService(repo, nil)
	ctx := context.Background()
	mar := core.NewMonth(2020, time.March)

	ref, err := svc.AddObservation(ctx, core.Observation{Category: "Food", Month: mar, Value: 104.5})
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	if ref == "" {
		t.Error("expected a row reference")
	}

	tasks, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Month != mar {
		t.Errorf("expected the observation month queued, got %v", tasks)
	}
}

func TestAddDecemberObservationInvalidatesFollowingYear(t *testing.T) {
	repo := newServiceTestRepo(t)
	svc := NewWeightService(repo, nil)
	ctx := context.Background()

	// Observations already exist for two months that use December 2019 as base.
	for _, m := range []core.Month{
		core.NewMonth(2020, time.January),
		core.NewMonth(2020, time.February),
	} {
		if _, err := repo.AppendObservation(ctx, core.Observation{Category: "Food", Month: m, Value: 100}); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}

	dec := core.NewMonth(2019, time.December)
	if _, err := svc.AddObservation(ctx, core.Observation{Category: "Food", Month: dec, Value: 99}); err != nil {
		t.Fatalf("AddObservation: %v", err)
	}

	tasks, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	months := make(map[core.Month]bool)
	for _, task := range tasks {
		months[task.Month] = true
	}
	for _, want := range []core.Month{
		dec,
		core.NewMonth(2020, time.January),
		core.NewMonth(2020, time.February),
	} {
		if !months[want] {
			t.Errorf("month %s should have been queued, got %v", want, tasks)
		}
	}
	if len(tasks) != 3 {
		t.Errorf("expected exactly 3 queued months, got %d", len(tasks))
	}
}

func TestAddAnchorInvalidatesAnchoredMonths(t *testing.T) {
	repo := newServiceTestRepo(t)
	svc := NewWeightService(repo, nil)
	ctx := context.Background()

	dec := core.NewMonth(2019, time.December)
	jan := core.NewMonth(2020, time.January)
	for _, m := range []core.Month{dec, jan} {
		if _, err := repo.AppendObservation(ctx, core.Observation{Category: "Food", Month: m, Value: 100}); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}
	// An observation outside the anchor's reach must not be queued.
	if _, err := repo.AppendObservation(ctx, core.Observation{Category: "Food", Month: core.NewMonth(2021, time.June), Value: 100}); err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}

	if _, err := svc.AddAnchor(ctx, core.AnchorWeight{Category: "Food", Year: 2019, Value: 13.9}); err != nil {
		t.Fatalf("AddAnchor: %v", err)
	}

	tasks, err := repo.ClaimPendingRecomputes(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPendingRecomputes: %v", err)
	}
	months := make(map[core.Month]bool)
	for _, task := range tasks {
		months[task.Month] = true
	}
	if !months[dec] || !months[jan] {
		t.Errorf("anchored months must be queued, got %v", tasks)
	}
	if months[core.NewMonth(2021, time.June)] {
		t.Error("month outside the anchor window must not be queued")
	}
}

func TestAddObservationRejectsInvalid(t *testing.T) {
	repo := newServiceTestRepo(t)
	svc := NewWeightService(repo, nil)

	if _, err := svc.AddObservation(context.Background(), core.Observation{Category: "", Month: core.NewMonth(2020, time.March), Value: 1}); err == nil {
		t.Error("invalid observation must be rejected")
	}
}
