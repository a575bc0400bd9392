package tables

import (
	"fmt"
	"strconv"
	"strings"

	"cpiweights/internal/core"
)

// Row parsing shared by the CSV-seeded memory store, the Google Sheets
// client and the import command. Every backend stores the same three row
// shapes: "category,YYYY-MM,value", "category,year,weight" and
// "category,group".

// ParseObservationRow parses a "category,YYYY-MM,value" row.
func ParseObservationRow(row []string) (core.Observation, error) {
	if len(row) < 3 {
		return core.Observation{}, fmt.Errorf("observation row needs 3 columns, got %d", len(row))
	}
	m, err := core.ParseMonth(row[1])
	if err != nil {
		return core.Observation{}, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return core.Observation{}, fmt.Errorf("parse index value %q: %w", row[2], err)
	}
	o := core.Observation{Category: strings.TrimSpace(row[0]), Month: m, Value: v}
	if err := o.Validate(); err != nil {
		return core.Observation{}, err
	}
	return o, nil
}

// ParseAnchorRow parses a "category,year,weight" row.
func ParseAnchorRow(row []string) (core.AnchorWeight, error) {
	if len(row) < 3 {
		return core.AnchorWeight{}, fmt.Errorf("anchor row needs 3 columns, got %d", len(row))
	}
	year, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return core.AnchorWeight{}, fmt.Errorf("parse anchor year %q: %w", row[1], err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return core.AnchorWeight{}, fmt.Errorf("parse anchor weight %q: %w", row[2], err)
	}
	a := core.AnchorWeight{Category: strings.TrimSpace(row[0]), Year: year, Value: v}
	if err := a.Validate(); err != nil {
		return core.AnchorWeight{}, err
	}
	return a, nil
}

// ParseGroupRow parses a "category,group" row.
func ParseGroupRow(row []string) (core.CategoryGroup, error) {
	if len(row) < 2 {
		return core.CategoryGroup{}, fmt.Errorf("group row needs 2 columns, got %d", len(row))
	}
	g := core.CategoryGroup{Category: strings.TrimSpace(row[0]), Group: strings.TrimSpace(row[1])}
	if err := g.Validate(); err != nil {
		return core.CategoryGroup{}, err
	}
	return g, nil
}

// LooksLikeHeader reports whether the row is a label row. Every table starts
// with a category column, so a first cell reading "category" marks a header.
func LooksLikeHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(row[0]), "category")
}
