package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cpiweights/internal/core"
	"cpiweights/internal/propagator"
	"cpiweights/internal/tables/memory"
)

func seededStore() *memory.Store {
	dec := core.NewMonth(2019, time.December)
	jan := core.NewMonth(2020, time.January)
	feb := core.NewMonth(2020, time.February)
	return memory.New(
		[]core.Observation{
			{Category: core.AllItems, Month: dec, Value: 100},
			{Category: core.AllItems, Month: jan, Value: 101},
			{Category: core.AllItems, Month: feb, Value: 101.5},
			{Category: "A", Month: dec, Value: 100},
			{Category: "A", Month: jan, Value: 102},
			{Category: "A", Month: feb, Value: 102.5},
			{Category: "B", Month: dec, Value: 50},
			{Category: "B", Month: jan, Value: 49},
			{Category: "B", Month: feb, Value: 49.5},
		},
		[]core.AnchorWeight{
			{Category: "A", Year: 2019, Value: 60},
			{Category: "B", Year: 2019, Value: 40},
		},
		nil,
	)
}

func TestRecomputeMonthStoresResult(t *testing.T) {
	store := seededStore()
	r := NewRecomputer(store, store, store, propagator.DefaultConfig())
	ctx := context.Background()
	jan := core.NewMonth(2020, time.January)

	mw, err := r.RecomputeMonth(ctx, jan)
	if err != nil {
		t.Fatalf("RecomputeMonth: %v", err)
	}

	wantA := 1.02 * 60 / (101.0 / 100.0)
	a, ok := mw.Find("A")
	if !ok {
		t.Fatal("weight for A missing")
	}
	if math.Abs(a.Value-wantA) > 1e-9 {
		t.Errorf("A: expected %v, got %v", wantA, a.Value)
	}

	stored, err := store.ReadMonthWeights(ctx, jan)
	if err != nil {
		t.Fatalf("result was not persisted: %v", err)
	}
	if len(stored.Weights) != len(mw.Weights) {
		t.Errorf("persisted %d weights, computed %d", len(stored.Weights), len(mw.Weights))
	}
}

func TestRecomputeMonthRejectsInvalidMonth(t *testing.T) {
	store := seededStore()
	r := NewRecomputer(store, store, store, propagator.DefaultConfig())

	if _, err := r.RecomputeMonth(context.Background(), core.Month{}); err == nil {
		t.Error("zero month must be rejected")
	}
}

func TestRecomputeMonthMissingAllItems(t *testing.T) {
	dec := core.NewMonth(2019, time.December)
	jan := core.NewMonth(2020, time.January)
	store := memory.New(
		[]core.Observation{
			{Category: "A", Month: dec, Value: 100},
			{Category: "A", Month: jan, Value: 102},
		},
		[]core.AnchorWeight{{Category: "A", Year: 2019, Value: 60}},
		nil,
	)
	r := NewRecomputer(store, store, store, propagator.DefaultConfig())

	_, err := r.RecomputeMonth(context.Background(), jan)
	var miss *core.MissingObservationError
	if !errors.As(err, &miss) {
		t.Fatalf("expected MissingObservationError, got %v", err)
	}
	if miss.Category != core.AllItems {
		t.Errorf("expected All items to be named, got %q", miss.Category)
	}

	if _, err := store.ReadMonthWeights(context.Background(), jan); err == nil {
		t.Error("a failed month must not persist weights")
	}
}

func TestRecomputeRange(t *testing.T) {
	store := seededStore()
	r := NewRecomputer(store, store, store, propagator.DefaultConfig())
	ctx := context.Background()

	results, err := r.RecomputeRange(ctx, core.NewMonth(2019, time.December), core.NewMonth(2020, time.February))
	if err != nil {
		t.Fatalf("RecomputeRange: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 months, got %d", len(results))
	}

	for _, m := range []core.Month{
		core.NewMonth(2019, time.December),
		core.NewMonth(2020, time.January),
		core.NewMonth(2020, time.February),
	} {
		if _, err := store.ReadMonthWeights(ctx, m); err != nil {
			t.Errorf("weights for %s not persisted: %v", m, err)
		}
	}
}
