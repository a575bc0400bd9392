package google

import (
	ports "cpiweights/internal/tables"

	"cpiweights/internal/core"
)

// Sheet rows come back as loosely typed strings; parsing is tolerant the way
// the CSV seeds are: header rows and malformed rows are skipped, never fatal.

func parseSeriesRows(rows [][]string) []core.Observation {
	var out []core.Observation
	for i, row := range rows {
		if i == 0 && ports.LooksLikeHeader(row) {
			continue
		}
		if o, err := ports.ParseObservationRow(row); err == nil {
			out = append(out, o)
		}
	}
	return out
}

func parseAnchorRows(rows [][]string) []core.AnchorWeight {
	var out []core.AnchorWeight
	for i, row := range rows {
		if i == 0 && ports.LooksLikeHeader(row) {
			continue
		}
		if a, err := ports.ParseAnchorRow(row); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func parseGroupRows(rows [][]string) []core.CategoryGroup {
	var out []core.CategoryGroup
	for i, row := range rows {
		if i == 0 && ports.LooksLikeHeader(row) {
			continue
		}
		if g, err := ports.ParseGroupRow(row); err == nil {
			out = append(out, g)
		}
	}
	return out
}
