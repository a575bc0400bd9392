package memory

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cpiweights/internal/core"
	"cpiweights/internal/tables"
)

// Store is an in-memory table source, optionally seeded from plain CSV files.
// It backs local development and tests where neither SQLite nor Google Sheets
// is configured.
type Store struct {
	mu      sync.Mutex
	series  []core.Observation
	anchors []core.AnchorWeight
	groups  []core.CategoryGroup
	weights map[core.Month]core.MonthWeights
}

func New(series []core.Observation, anchors []core.AnchorWeight, groups []core.CategoryGroup) *Store {
	return &Store{
		series:  append([]core.Observation(nil), series...),
		anchors: append([]core.AnchorWeight(nil), anchors...),
		groups:  append([]core.CategoryGroup(nil), groups...),
		weights: make(map[core.Month]core.MonthWeights),
	}
}

// NewFromFiles seeds a store from base/series.csv, base/anchors.csv and
// base/groups.csv. Missing files leave the corresponding table empty; a
// malformed row is skipped rather than failing the whole seed.
func NewFromFiles(base string) *Store {
	s := New(nil, nil, nil)
	for _, row := range readCSV(filepath.Join(base, "series.csv")) {
		if o, err := tables.ParseObservationRow(row); err == nil {
			s.series = append(s.series, o)
		}
	}
	for _, row := range readCSV(filepath.Join(base, "anchors.csv")) {
		if a, err := tables.ParseAnchorRow(row); err == nil {
			s.anchors = append(s.anchors, a)
		}
	}
	for _, row := range readCSV(filepath.Join(base, "groups.csv")) {
		if g, err := tables.ParseGroupRow(row); err == nil {
			s.groups = append(s.groups, g)
		}
	}
	return s
}

// ReadSeries implements tables.SeriesReader.
func (s *Store) ReadSeries(_ context.Context, from, to core.Month) ([]core.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Observation
	for _, o := range s.series {
		if o.Month.Before(from) || to.Before(o.Month) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadAnchors implements tables.AnchorReader.
func (s *Store) ReadAnchors(_ context.Context, fromYear, toYear int) ([]core.AnchorWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AnchorWeight
	for _, a := range s.anchors {
		if a.Year < fromYear || a.Year > toYear {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ReadGroups implements tables.GroupReader.
func (s *Store) ReadGroups(_ context.Context) ([]core.CategoryGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CategoryGroup(nil), s.groups...), nil
}

// WriteMonthWeights implements tables.WeightWriter.
func (s *Store) WriteMonthWeights(_ context.Context, mw core.MonthWeights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[mw.Month] = mw
	return nil
}

// ReadMonthWeights implements tables.WeightReader.
func (s *Store) ReadMonthWeights(_ context.Context, m core.Month) (core.MonthWeights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mw, ok := s.weights[m]
	if !ok {
		return core.MonthWeights{}, fmt.Errorf("%w: %s", tables.ErrNoWeights, m)
	}
	return mw, nil
}

// AppendObservation implements tables.ObservationWriter.
func (s *Store) AppendObservation(_ context.Context, o core.Observation) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = append(s.series, o)
	return fmt.Sprintf("mem:series:%d", len(s.series)), nil
}

// AppendAnchor implements tables.ObservationWriter.
func (s *Store) AppendAnchor(_ context.Context, a core.AnchorWeight) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors = append(s.anchors, a)
	return fmt.Sprintf("mem:anchors:%d", len(s.anchors)), nil
}

// readCSV reads all rows of a CSV file, skipping blank lines, '#' comments
// and a header row when the file carries one.
func readCSV(path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	rows, err := r.ReadAll()
	if err != nil || len(rows) == 0 {
		return nil
	}
	if tables.LooksLikeHeader(rows[0]) {
		rows = rows[1:]
	}
	return rows
}
