package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cpiweights/internal/core"
	"cpiweights/internal/tables"
)

func TestNewFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "series.csv", "category,month,value\nAll items,2019-12,100\nEnergy,2019-12,98.5\n# comment\nEnergy,2020-01,101.2\n")
	writeFile(t, dir, "anchors.csv", "category,year,weight\nEnergy,2019,7.5\nbadrow\n")
	writeFile(t, dir, "groups.csv", "Energy,Energy\n")

	s := NewFromFiles(dir)
	ctx := context.Background()

	obs, err := s.ReadSeries(ctx, core.NewMonth(2019, time.December), core.NewMonth(2020, time.December))
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(obs) != 3 {
		t.Errorf("expected 3 observations, got %d", len(obs))
	}

	anchors, err := s.ReadAnchors(ctx, 2019, 2019)
	if err != nil {
		t.Fatalf("ReadAnchors: %v", err)
	}
	if len(anchors) != 1 || anchors[0].Value != 7.5 {
		t.Errorf("expected single 7.5 anchor, got %v", anchors)
	}

	groups, err := s.ReadGroups(ctx)
	if err != nil {
		t.Fatalf("ReadGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Group != "Energy" {
		t.Errorf("unexpected groups: %v", groups)
	}
}

func TestNewFromFilesMissingDir(t *testing.T) {
	s := NewFromFiles(filepath.Join(t.TempDir(), "nope"))
	obs, err := s.ReadSeries(context.Background(), core.NewMonth(2000, time.January), core.NewMonth(2030, time.December))
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(obs) != 0 {
		t.Errorf("missing dir should seed empty store, got %d observations", len(obs))
	}
}

func TestReadSeriesRange(t *testing.T) {
	s := New([]core.Observation{
		{Category: "A", Month: core.NewMonth(2019, time.November), Value: 1},
		{Category: "A", Month: core.NewMonth(2019, time.December), Value: 2},
		{Category: "A", Month: core.NewMonth(2020, time.January), Value: 3},
	}, nil, nil)

	obs, err := s.ReadSeries(context.Background(), core.NewMonth(2019, time.December), core.NewMonth(2019, time.December))
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(obs) != 1 || obs[0].Value != 2 {
		t.Errorf("range filter wrong: %v", obs)
	}
}

func TestWeightRoundTrip(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()
	m := core.NewMonth(2020, time.March)

	if _, err := s.ReadMonthWeights(ctx, m); !errors.Is(err, tables.ErrNoWeights) {
		t.Errorf("expected ErrNoWeights before any write, got %v", err)
	}

	mw := core.MonthWeights{
		Month: m,
		Weights: []core.Weight{
			{Category: core.AllItems, Month: m, Value: 100, AnchorYear: 2019},
			{Category: "Food", Month: m, Value: 13.9, AnchorYear: 2019},
		},
		Coverage: core.Coverage{Month: m, Total: 13.9},
	}
	if err := s.WriteMonthWeights(ctx, mw); err != nil {
		t.Fatalf("WriteMonthWeights: %v", err)
	}
	got, err := s.ReadMonthWeights(ctx, m)
	if err != nil {
		t.Fatalf("ReadMonthWeights: %v", err)
	}
	if len(got.Weights) != 2 || got.Coverage.Total != 13.9 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestAppendValidates(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	if _, err := s.AppendObservation(ctx, core.Observation{Category: "", Month: core.NewMonth(2020, time.January), Value: 1}); err == nil {
		t.Error("empty category must be rejected")
	}
	ref, err := s.AppendObservation(ctx, core.Observation{Category: "Food", Month: core.NewMonth(2020, time.January), Value: 104.5})
	if err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}
	if ref == "" {
		t.Error("append should return a row reference")
	}

	if _, err := s.AppendAnchor(ctx, core.AnchorWeight{Category: "Food", Year: 2019, Value: -1}); err == nil {
		t.Error("negative anchor must be rejected")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
